package repository

import (
	"context"

	"stockledger-backend/internal/store"
)

// SeedCatalog inserts store.DemoCatalog. Idempotent: ids are fixed and
// existing rows are left alone.
func (s Store) SeedCatalog(ctx context.Context) error {
	return s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t := tx.(*Tx)
		for _, v := range store.DemoCatalog() {
			if _, err := t.tx.Exec(ctx, `
				INSERT INTO products (id, name, is_active, created_at, updated_at)
				VALUES ($1,$2, TRUE, now(), now())
				ON CONFLICT (id) DO NOTHING
			`, v.ProductID, v.ProductName); err != nil {
				return err
			}
			if _, err := t.tx.Exec(ctx, `
				INSERT INTO product_variants (id, product_id, size, sku, price, min_qty, is_active, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5::numeric,$6, TRUE, now(), now())
				ON CONFLICT DO NOTHING
			`, v.ID, v.ProductID, v.Size, v.SKU, v.Price.String(), v.MinQty); err != nil {
				return err
			}
		}
		return nil
	})
}
