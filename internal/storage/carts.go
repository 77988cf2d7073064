package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"orderdesk/internal"
)

const cartItemColumns = `cart_id, product_id, product_code, product_name, quantity_cartons,
  unit_price, discount_percent, line_total, discounted_line_total, updated_at`

// GetCartByConversation returns the open cart of a conversation, or nil.
func (q *Queries) GetCartByConversation(ctx context.Context, tenantID, conversationID string) (*internal.Cart, error) {
	var cart internal.Cart
	err := q.get(ctx, &cart, `
SELECT id, tenant_id, conversation_id, created_at, updated_at FROM carts
WHERE tenant_id = ? AND conversation_id = ?
`, tenantID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (q *Queries) GetCart(ctx context.Context, cartID string) (*internal.Cart, error) {
	var cart internal.Cart
	err := q.get(ctx, &cart, `SELECT id, tenant_id, conversation_id, created_at, updated_at FROM carts WHERE id = ?`, cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// EnsureCart returns the conversation's cart, creating it on first use.
func (q *Queries) EnsureCart(ctx context.Context, tenantID, conversationID string) (internal.Cart, error) {
	ts := now()
	if _, err := q.exec(ctx, `
INSERT INTO carts (id, tenant_id, conversation_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, conversation_id) DO NOTHING
`, uuid.NewString(), tenantID, conversationID, ts, ts); err != nil {
		return internal.Cart{}, err
	}
	cart, err := q.GetCartByConversation(ctx, tenantID, conversationID)
	if err != nil {
		return internal.Cart{}, err
	}
	if cart == nil {
		return internal.Cart{}, errors.New("failed to create cart")
	}
	return *cart, nil
}

func (q *Queries) TouchCart(ctx context.Context, cartID string) error {
	_, err := q.exec(ctx, `UPDATE carts SET updated_at = ? WHERE id = ?`, now(), cartID)
	return err
}

func (q *Queries) GetCartItem(ctx context.Context, cartID, productID string) (*internal.CartLineItem, error) {
	var item internal.CartLineItem
	err := q.get(ctx, &item, `SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *Queries) ListCartItems(ctx context.Context, cartID string) ([]internal.CartLineItem, error) {
	var items []internal.CartLineItem
	if err := q.selectAll(ctx, &items, `SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = ? ORDER BY product_code ASC`, cartID); err != nil {
		return nil, err
	}
	return items, nil
}

// PutCartItem writes the full row for (cart_id, product_id); the primary key
// keeps at most one row per product.
func (q *Queries) PutCartItem(ctx context.Context, item internal.CartLineItem) error {
	_, err := q.exec(ctx, `
INSERT INTO cart_items (`+cartItemColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cart_id, product_id) DO UPDATE SET
  product_code = excluded.product_code,
  product_name = excluded.product_name,
  quantity_cartons = excluded.quantity_cartons,
  unit_price = excluded.unit_price,
  discount_percent = excluded.discount_percent,
  line_total = excluded.line_total,
  discounted_line_total = excluded.discounted_line_total,
  updated_at = excluded.updated_at
`, item.CartID, item.ProductID, item.ProductCode, item.ProductName, item.QuantityCartons,
		item.UnitPrice, item.DiscountPercent, item.LineTotal, item.DiscountedLineTotal, now())
	return err
}

// DeleteCart removes a cart and its items.
func (q *Queries) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := q.exec(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return err
	}
	_, err := q.exec(ctx, `DELETE FROM carts WHERE id = ?`, cartID)
	return err
}
