package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"stockledger-backend/internal/domain"
)

func splitKeys(keys []domain.StockKey) (outlets, variants []string) {
	outlets = make([]string, len(keys))
	variants = make([]string, len(keys))
	for i, k := range keys {
		outlets[i], variants[i] = k.OutletID, k.VariantID
	}
	return outlets, variants
}

func scanQuantities(rows pgx.Rows, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	defer rows.Close()
	out := make(map[domain.StockKey]int, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	for rows.Next() {
		var (
			k   domain.StockKey
			qty int
		)
		if err := rows.Scan(&k.OutletID, &k.VariantID, &qty); err != nil {
			return nil, err
		}
		out[k] = qty
	}
	return out, rows.Err()
}

// LockStock creates missing rows at zero and locks all rows in key order.
func (t *Tx) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	if len(keys) == 0 {
		return map[domain.StockKey]int{}, nil
	}
	outlets, variants := splitKeys(keys)
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO stocks (outlet_id, variant_id, qty, updated_at)
		SELECT o, v, 0, now() FROM unnest($1::text[], $2::text[]) AS k(o, v)
		ORDER BY o, v
		ON CONFLICT (outlet_id, variant_id) DO NOTHING
	`, outlets, variants); err != nil {
		return nil, fmt.Errorf("ensure stock rows: %w", err)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT s.outlet_id, s.variant_id, s.qty
		FROM stocks s
		JOIN unnest($1::text[], $2::text[]) AS k(o, v) ON s.outlet_id = k.o AND s.variant_id = k.v
		ORDER BY s.outlet_id, s.variant_id
		FOR UPDATE OF s
	`, outlets, variants)
	if err != nil {
		return nil, err
	}
	return scanQuantities(rows, keys)
}

func (t *Tx) ReadStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	if len(keys) == 0 {
		return map[domain.StockKey]int{}, nil
	}
	outlets, variants := splitKeys(keys)
	rows, err := t.tx.Query(ctx, `
		SELECT s.outlet_id, s.variant_id, s.qty
		FROM stocks s
		JOIN unnest($1::text[], $2::text[]) AS k(o, v) ON s.outlet_id = k.o AND s.variant_id = k.v
	`, outlets, variants)
	if err != nil {
		return nil, err
	}
	return scanQuantities(rows, keys)
}

func (t *Tx) SetStock(ctx context.Context, key domain.StockKey, qty int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stocks (outlet_id, variant_id, qty, updated_at)
		VALUES ($1,$2,$3, now())
		ON CONFLICT (outlet_id, variant_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, key.OutletID, key.VariantID, qty)
	return err
}

func (t *Tx) ListStock(ctx context.Context, outletID string, limit int) ([]domain.Stock, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT s.outlet_id, s.variant_id, v.sku, s.qty, s.updated_at
		FROM stocks s
		JOIN product_variants v ON v.id = s.variant_id
		WHERE ($1::text = '' OR s.outlet_id = $1)
		ORDER BY s.outlet_id ASC, v.sku ASC
		LIMIT $2
	`, outletID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Stock
	for rows.Next() {
		var s domain.Stock
		if err := rows.Scan(&s.OutletID, &s.VariantID, &s.SKU, &s.Qty, &s.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (t *Tx) InsertMovement(ctx context.Context, m *domain.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements
		(id, type, outlet_id, variant_id, qty, qty_before, qty_after, note, ref_type, ref_id, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		RETURNING created_at
	`, m.ID, m.Type, m.OutletID, m.VariantID, m.Qty, m.QtyBefore, m.QtyAfter, m.Note, m.RefType, m.RefID, m.ActorID).Scan(&m.CreatedAt)
	return duplicate(err)
}

func (t *Tx) MovedQty(ctx context.Context, refType domain.RefType, refID string) (map[string]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT variant_id, SUM(qty)
		FROM stock_movements
		WHERE ref_type=$1 AND ref_id=$2
		GROUP BY variant_id
	`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			variantID string
			qty       int
		)
		if err := rows.Scan(&variantID, &qty); err != nil {
			return nil, err
		}
		out[variantID] = qty
	}
	return out, rows.Err()
}

func (t *Tx) ListMovements(ctx context.Context, f domain.MovementFilter) ([]domain.StockMovement, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.OutletID != "" {
		add("outlet_id=$%d", f.OutletID)
	}
	if f.VariantID != "" {
		add("variant_id=$%d", f.VariantID)
	}
	if f.RefType != "" {
		add("ref_type=$%d", f.RefType)
	}
	if f.RefID != "" {
		add("ref_id=$%d", f.RefID)
	}
	query := `
		SELECT id, type, outlet_id, variant_id, qty, qty_before, qty_after, note, ref_type, ref_id, actor_id, created_at
		FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrAll(f.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.Type, &m.OutletID, &m.VariantID, &m.Qty, &m.QtyBefore, &m.QtyAfter,
			&m.Note, &m.RefType, &m.RefID, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// MovementBalances sums signed movement quantities per Stock key.
func (t *Tx) MovementBalances(ctx context.Context, outletID string) (map[domain.StockKey]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT outlet_id, variant_id, SUM(
			CASE type
				WHEN 'IN' THEN qty
				WHEN 'TRANSFER_IN' THEN qty
				WHEN 'OUT' THEN -qty
				WHEN 'TRANSFER_OUT' THEN -qty
				ELSE qty_after - qty_before
			END)
		FROM stock_movements
		WHERE ($1::text = '' OR outlet_id = $1)
		GROUP BY outlet_id, variant_id
	`, outletID)
	if err != nil {
		return nil, err
	}
	return scanQuantities(rows, nil)
}

func (t *Tx) AllStock(ctx context.Context, outletID string) (map[domain.StockKey]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT outlet_id, variant_id, qty
		FROM stocks
		WHERE ($1::text = '' OR outlet_id = $1)
	`, outletID)
	if err != nil {
		return nil, err
	}
	return scanQuantities(rows, nil)
}
