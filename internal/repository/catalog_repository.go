package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"stockledger-backend/internal/domain"
)

const variantSelect = `
	SELECT v.id, v.product_id, p.name, v.size, v.sku, v.price::text, v.min_qty,
	       v.is_active, v.deleted_at, p.is_active, p.deleted_at
	FROM product_variants v
	JOIN products p ON p.id = v.product_id`

func scanVariant(row pgx.Row) (domain.Variant, error) {
	var (
		v                  domain.Variant
		price              string
		vActive, pActive   bool
		vDeleted, pDeleted pgtype.Timestamptz
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Size, &v.SKU, &price, &v.MinQty,
		&vActive, &vDeleted, &pActive, &pDeleted); err != nil {
		return v, err
	}
	var err error
	if v.Price, err = parseDecimal(price); err != nil {
		return v, err
	}
	v.Lifecycle = domain.LifecycleOf(vActive, timePtr(vDeleted))
	v.ProductLifecycle = domain.LifecycleOf(pActive, timePtr(pDeleted))
	return v, nil
}

// GetVariants returns the variants that exist among ids, deleted ones included.
func (t *Tx) GetVariants(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	out := make(map[string]domain.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, variantSelect+` WHERE v.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (t *Tx) ListVariants(ctx context.Context, limit int) ([]domain.Variant, error) {
	rows, err := t.tx.Query(ctx, variantSelect+`
		WHERE v.deleted_at IS NULL AND p.deleted_at IS NULL
		ORDER BY v.sku ASC
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}
