package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"stockledger-backend/internal/domain"
)

const orderColumns = `id, channel, source, external_order_id, outlet_id, status, total_amount::text, note, ordered_at, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o     domain.Order
		total string
	)
	if err := row.Scan(&o.ID, &o.Channel, &o.Source, &o.ExternalOrderID, &o.OutletID, &o.Status, &total,
		&o.Note, &o.OrderedAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if o.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders
		(id, channel, source, external_order_id, outlet_id, status, total_amount, note, ordered_at, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10, now(), now())
		RETURNING created_at, updated_at
	`, o.ID, o.Channel, o.Source, o.ExternalOrderID, o.OutletID, o.Status, o.TotalAmount.String(),
		o.Note, o.OrderedAt, o.CreatedBy).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return duplicate(err)
	}
	return t.insertOrderItems(ctx, o)
}

func (t *Tx) insertOrderItems(ctx context.Context, o *domain.Order) error {
	if len(o.Items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range o.Items {
		it := &o.Items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.OrderID = o.ID
		batch.Queue(`
			INSERT INTO order_items (id, order_id, variant_id, external_sku, qty, price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric)
		`, it.ID, it.OrderID, it.VariantID, it.ExternalSKU, it.Qty, it.Price.String(), it.Subtotal.String())
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func (t *Tx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status=$1, total_amount=$2::numeric, note=$3, updated_at=now()
		WHERE id=$4
	`, o.Status, o.TotalAmount.String(), o.Note, o.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return err
	}
	return t.insertOrderItems(ctx, o)
}

// GetOrder locks the order row for the rest of the transaction.
func (t *Tx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := t.loadOrderItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *Tx) FindOrderByExternalID(ctx context.Context, channel domain.Channel, externalOrderID string) (*domain.Order, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM orders WHERE channel=$1 AND external_order_id=$2 AND external_order_id <> ''
	`, channel, externalOrderID).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return t.GetOrder(ctx, id)
}

func (t *Tx) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Channel != "" {
		args = append(args, f.Channel)
		where = append(where, fmt.Sprintf("channel=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrAll(f.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ptrs []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := t.loadOrderItems(ctx, ptrs); err != nil {
		return nil, err
	}
	items := make([]domain.Order, 0, len(ptrs))
	for _, o := range ptrs {
		items = append(items, *o)
	}
	return items, nil
}

func (t *Tx) loadOrderItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, variant_id, external_sku, qty, price::text, subtotal::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it              domain.OrderItem
			price, subtotal string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.ExternalSKU, &it.Qty, &price, &subtotal); err != nil {
			return err
		}
		if it.Price, err = parseDecimal(price); err != nil {
			return err
		}
		if it.Subtotal, err = parseDecimal(subtotal); err != nil {
			return err
		}
		o := byID[it.OrderID]
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}
