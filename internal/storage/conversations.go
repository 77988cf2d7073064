package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
)

type conversationRow struct {
	StateJSON string `db:"state_json"`
	Version   int64  `db:"version"`
}

// GetConversation loads the negotiation state. A conversation never written
// before comes back empty at version 0.
func (q *Queries) GetConversation(ctx context.Context, tenantID, conversationID string) (internal.NegotiationState, error) {
	empty := internal.NegotiationState{TenantID: tenantID, ConversationID: conversationID, Stage: internal.StageNone}

	var row conversationRow
	err := q.get(ctx, &row, `SELECT state_json, version FROM conversations WHERE tenant_id = ? AND conversation_id = ?`, tenantID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return empty, nil
	}
	if err != nil {
		return empty, err
	}

	var state internal.NegotiationState
	if err := json.Unmarshal([]byte(row.StateJSON), &state); err != nil {
		return empty, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	state.TenantID = tenantID
	state.ConversationID = conversationID
	state.Version = row.Version
	if state.Stage == "" {
		state.Stage = internal.StageNone
	}
	return state, nil
}

// SaveConversation writes the state if nobody else wrote since it was read
// (compare-and-swap on version) and returns the new version. A lost race is
// apperr.ErrCartMergeConflict.
func (q *Queries) SaveConversation(ctx context.Context, state internal.NegotiationState) (int64, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return 0, err
	}

	var res sql.Result
	if state.Version == 0 {
		res, err = q.exec(ctx, `
INSERT INTO conversations (tenant_id, conversation_id, state_json, version, updated_at) VALUES (?, ?, ?, 1, ?)
ON CONFLICT(tenant_id, conversation_id) DO NOTHING
`, state.TenantID, state.ConversationID, string(data), now())
	} else {
		res, err = q.exec(ctx, `
UPDATE conversations SET state_json = ?, version = version + 1, updated_at = ?
WHERE tenant_id = ? AND conversation_id = ? AND version = ?
`, string(data), now(), state.TenantID, state.ConversationID, state.Version)
	}
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.New(apperr.CodeCartMergeConflict, "conversation %s changed since version %d", state.ConversationID, state.Version)
	}
	return state.Version + 1, nil
}
