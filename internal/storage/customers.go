package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"orderdesk/internal"
)

// GetCustomerTier returns the stored tier, NEW for unknown customers.
func (q *Queries) GetCustomerTier(ctx context.Context, tenantID, customerID string) (internal.CustomerTier, error) {
	var tier string
	err := q.get(ctx, &tier, `SELECT tier FROM customers WHERE tenant_id = ? AND customer_id = ?`, tenantID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.TierNew, nil
	}
	if err != nil {
		return "", err
	}
	return internal.CustomerTier(tier), nil
}

func (q *Queries) SetCustomerTier(ctx context.Context, tenantID, customerID string, tier internal.CustomerTier) error {
	_, err := q.exec(ctx, `
INSERT INTO customers (tenant_id, customer_id, tier, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(tenant_id, customer_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at
`, tenantID, customerID, string(tier), now())
	return err
}

// PromoteCustomer makes a NEW (or unknown) customer RETURNING. VIP is kept.
func (q *Queries) PromoteCustomer(ctx context.Context, tenantID, customerID string) error {
	tier, err := q.GetCustomerTier(ctx, tenantID, customerID)
	if err != nil {
		return err
	}
	if tier != internal.TierNew {
		return nil
	}
	return q.SetCustomerTier(ctx, tenantID, customerID, internal.TierReturning)
}

type purchasePriceRow struct {
	ProductID   string          `db:"product_id"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	PurchasedAt string          `db:"purchased_at"`
}

// LastPurchasePrices maps product id to the customer's most recent price.
func (q *Queries) LastPurchasePrices(ctx context.Context, tenantID, customerID string) (map[string]internal.PurchasePrice, error) {
	var rows []purchasePriceRow
	if err := q.selectAll(ctx, &rows, `
SELECT product_id, unit_price, purchased_at FROM purchase_prices
WHERE tenant_id = ? AND customer_id = ?
`, tenantID, customerID); err != nil {
		return nil, err
	}

	out := make(map[string]internal.PurchasePrice, len(rows))
	for _, r := range rows {
		at, err := time.Parse(time.RFC3339Nano, r.PurchasedAt)
		if err != nil {
			continue
		}
		out[r.ProductID] = internal.PurchasePrice{ProductID: r.ProductID, UnitPrice: r.UnitPrice, PurchasedAt: at}
	}
	return out, nil
}

// RecordPurchasePrices stores the unit price each product was bought at.
func (q *Queries) RecordPurchasePrices(ctx context.Context, tenantID, customerID string, lines []internal.CartLineItem, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	for _, l := range lines {
		if _, err := q.exec(ctx, `
INSERT INTO purchase_prices (tenant_id, customer_id, product_id, unit_price, purchased_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, customer_id, product_id) DO UPDATE SET
  unit_price = excluded.unit_price,
  purchased_at = excluded.purchased_at
`, tenantID, customerID, l.ProductID, l.UnitPrice, ts); err != nil {
			return err
		}
	}
	return nil
}
