// Package channel fetches buyer messages from mail providers, stores them
// and reduces them to order text.
package channel

import (
	"context"

	"orderdesk/internal"
)

// Connector fetches raw messages from a mailbox label.
type Connector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMessage, error)
}
