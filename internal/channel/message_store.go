package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"orderdesk/internal"
)

// InboundStore is the part of storage the channel writes to.
type InboundStore interface {
	UpsertInboundMessage(ctx context.Context, m internal.InboundMessage) (internal.InboundMessage, error)
}

// MessageStore keeps raw messages on disk, named by content hash, and records
// them for processing. The conversation of a message is its sender address.
type MessageStore struct {
	store  InboundStore
	rawDir string
}

func NewMessageStore(store InboundStore, rawDir string) *MessageStore {
	return &MessageStore{store: store, rawDir: rawDir}
}

func (s *MessageStore) Store(ctx context.Context, tenantID string, msg internal.FetchedMessage) (internal.InboundMessage, error) {
	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(s.rawDir, 0o755); err != nil {
		return internal.InboundMessage{}, err
	}
	rawPath := filepath.Join(s.rawDir, hash+".eml")
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return internal.InboundMessage{}, err
		}
	}

	return s.store.UpsertInboundMessage(ctx, internal.InboundMessage{
		Provider:       msg.Provider,
		MessageID:      msg.MessageID,
		TenantID:       tenantID,
		ConversationID: SenderAddress(msg.From),
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt,
		Hash:           hash,
		RawRef:         rawPath,
	})
}
