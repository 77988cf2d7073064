package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"orderdesk/internal"
)

const productColumns = `id, tenant_id, code, name, description, category, price,
  units_per_carton, units_per_packet, packets_per_carton, is_active, updated_at`

// UpsertProducts inserts new products and refreshes name, description,
// category, price and active flag of existing ones. Packaging fields of a stored
// product are never overwritten: priced orders already reference them.
func (q *Queries) UpsertProducts(ctx context.Context, products []internal.CatalogProduct) error {
	ts := now()
	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := q.exec(ctx, `
INSERT INTO products (`+productColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, code) DO UPDATE SET
  name = excluded.name,
  description = excluded.description,
  category = excluded.category,
  price = excluded.price,
  is_active = excluded.is_active,
  updated_at = excluded.updated_at
`, id, p.TenantID, p.Code, p.Name, p.Description, p.Category, p.Price,
			p.UnitsPerCarton, p.UnitsPerPacket, p.PacketsPerCarton, boolInt(p.IsActive), ts,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListProducts returns a tenant's catalog ordered by code.
func (q *Queries) ListProducts(ctx context.Context, tenantID string, activeOnly bool) ([]internal.CatalogProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY code ASC`

	var out []internal.CatalogProduct
	if err := q.selectAll(ctx, &out, query, tenantID); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queries) GetProductByCode(ctx context.Context, tenantID, code string) (*internal.CatalogProduct, error) {
	var p internal.CatalogProduct
	err := q.get(ctx, &p, `SELECT `+productColumns+` FROM products WHERE tenant_id = ? AND code = ?`, tenantID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *Queries) GetProduct(ctx context.Context, tenantID, id string) (*internal.CatalogProduct, error) {
	var p internal.CatalogProduct
	err := q.get(ctx, &p, `SELECT `+productColumns+` FROM products WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchProducts is a case-insensitive substring search over name, code and
// description of active products.
func (q *Queries) SearchProducts(ctx context.Context, tenantID, term string, limit int) ([]internal.CatalogProduct, error) {
	pattern := "%" + term + "%"
	var out []internal.CatalogProduct
	err := q.selectAll(ctx, &out, `
SELECT `+productColumns+` FROM products
WHERE tenant_id = ? AND is_active = 1
  AND (LOWER(name) LIKE LOWER(?) OR LOWER(code) LIKE LOWER(?) OR LOWER(description) LIKE LOWER(?))
ORDER BY code ASC
LIMIT ?
`, tenantID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
