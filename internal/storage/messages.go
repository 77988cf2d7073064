package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"orderdesk/internal"
)

const (
	StatusFetched   = "fetched"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

const inboundColumns = `id, provider, message_id, tenant_id, conversation_id, subject, received_at, hash, status, raw_ref`

// UpsertInboundMessage records a fetched message once per (provider, message_id).
// Refetching refreshes metadata but keeps the processing status.
func (q *Queries) UpsertInboundMessage(ctx context.Context, m internal.InboundMessage) (internal.InboundMessage, error) {
	ts := now()
	status := m.Status
	if status == "" {
		status = StatusFetched
	}
	_, err := q.exec(ctx, `
INSERT INTO inbound_messages (`+inboundColumns+`, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, message_id) DO UPDATE SET
  subject = excluded.subject,
  received_at = excluded.received_at,
  hash = excluded.hash,
  raw_ref = excluded.raw_ref,
  updated_at = excluded.updated_at
`, uuid.NewString(), m.Provider, m.MessageID, m.TenantID, m.ConversationID, m.Subject, m.ReceivedAt, m.Hash, status, m.RawRef, ts, ts)
	if err != nil {
		return internal.InboundMessage{}, err
	}

	row, err := q.GetInboundMessage(ctx, m.Provider, m.MessageID)
	if err != nil {
		return internal.InboundMessage{}, err
	}
	if row == nil {
		return internal.InboundMessage{}, errors.New("failed to upsert inbound message")
	}
	return *row, nil
}

func (q *Queries) GetInboundMessage(ctx context.Context, provider, messageID string) (*internal.InboundMessage, error) {
	var row internal.InboundMessage
	err := q.get(ctx, &row, `SELECT `+inboundColumns+` FROM inbound_messages WHERE provider = ? AND message_id = ?`, provider, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListInboundByStatus returns messages oldest first so a conversation is
// replayed in arrival order.
func (q *Queries) ListInboundByStatus(ctx context.Context, status string, limit int) ([]internal.InboundMessage, error) {
	var out []internal.InboundMessage
	if err := q.selectAll(ctx, &out, `
SELECT `+inboundColumns+` FROM inbound_messages
WHERE status = ? ORDER BY received_at ASC, created_at ASC LIMIT ?
`, status, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queries) UpdateInboundStatus(ctx context.Context, id, status, resultJSON string) error {
	_, err := q.exec(ctx, `UPDATE inbound_messages SET status = ?, result_json = ?, updated_at = ? WHERE id = ?`, status, resultJSON, now(), id)
	return err
}
