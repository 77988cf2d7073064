package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderdesk/internal"
)

type orderRow struct {
	ID             string          `db:"id"`
	TenantID       string          `db:"tenant_id"`
	ConversationID string          `db:"conversation_id"`
	CartID         string          `db:"cart_id"`
	LinesJSON      string          `db:"lines_json"`
	GrossTotal     decimal.Decimal `db:"gross_total"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	Subtotal       decimal.Decimal `db:"subtotal"`
	Tax            decimal.Decimal `db:"tax"`
	Total          decimal.Decimal `db:"total"`
	CreatedAt      string          `db:"created_at"`
}

func (r orderRow) draft() (internal.OrderDraft, error) {
	d := internal.OrderDraft{
		ID:             r.ID,
		TenantID:       r.TenantID,
		ConversationID: r.ConversationID,
		CartID:         r.CartID,
		Totals: internal.OrderTotals{
			GrossTotal:     r.GrossTotal,
			DiscountAmount: r.DiscountAmount,
			Subtotal:       r.Subtotal,
			Tax:            r.Tax,
			Total:          r.Total,
		},
	}
	if err := json.Unmarshal([]byte(r.LinesJSON), &d.Lines); err != nil {
		return d, fmt.Errorf("decode order %s lines: %w", r.ID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err == nil {
		d.CreatedAt = created
	}
	return d, nil
}

func (q *Queries) InsertOrder(ctx context.Context, d internal.OrderDraft) error {
	linesJSON, err := json.Marshal(d.Lines)
	if err != nil {
		return err
	}
	_, err = q.exec(ctx, `
INSERT INTO orders (id, tenant_id, conversation_id, cart_id, lines_json, gross_total, discount_amount, subtotal, tax, total, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, d.ID, d.TenantID, d.ConversationID, d.CartID, string(linesJSON),
		d.Totals.GrossTotal, d.Totals.DiscountAmount, d.Totals.Subtotal, d.Totals.Tax, d.Totals.Total,
		d.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

const orderColumns = `id, tenant_id, conversation_id, cart_id, lines_json, gross_total, discount_amount, subtotal, tax, total, created_at`

func (q *Queries) GetOrder(ctx context.Context, id string) (*internal.OrderDraft, error) {
	var row orderRow
	err := q.get(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := row.draft()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// LatestOrder returns the most recent order draft of a conversation, or nil.
func (q *Queries) LatestOrder(ctx context.Context, tenantID, conversationID string) (*internal.OrderDraft, error) {
	var row orderRow
	err := q.get(ctx, &row, `
SELECT `+orderColumns+` FROM orders
WHERE tenant_id = ? AND conversation_id = ?
ORDER BY created_at DESC LIMIT 1
`, tenantID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := row.draft()
	if err != nil {
		return nil, err
	}
	return &d, nil
}
