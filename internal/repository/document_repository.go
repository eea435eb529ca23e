package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"stockledger-backend/internal/domain"
)

// Stock documents keep their lines as JSONB; the ledger effect of each line
// lives in stock_movements.

func (t *Tx) InsertStockIn(ctx context.Context, d *domain.StockIn) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	items, err := json.Marshal(d.Items)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO stock_ins (id, outlet_id, supplier, note, received_at, created_by, items, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		RETURNING created_at
	`, d.ID, d.OutletID, d.Supplier, d.Note, d.ReceivedAt, d.CreatedBy, items).Scan(&d.CreatedAt)
}

func (t *Tx) InsertStockTransfer(ctx context.Context, d *domain.StockTransfer) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	items, err := json.Marshal(d.Items)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO stock_transfers (id, from_outlet_id, to_outlet_id, note, transferred_at, created_by, items, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		RETURNING created_at
	`, d.ID, d.FromOutletID, d.ToOutletID, d.Note, d.TransferredAt, d.CreatedBy, items).Scan(&d.CreatedAt)
}

func (t *Tx) InsertStockAdjustment(ctx context.Context, d *domain.StockAdjustment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO stock_adjustments (id, outlet_id, variant_id, delta_qty, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		RETURNING created_at
	`, d.ID, d.OutletID, d.VariantID, d.DeltaQty, d.Reason, d.CreatedBy).Scan(&d.CreatedAt)
}

func (t *Tx) InsertStockOpname(ctx context.Context, d *domain.StockOpname) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	items, err := json.Marshal(d.Items)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO stock_opnames (id, outlet_id, note, created_by, items, created_at)
		VALUES ($1,$2,$3,$4,$5, now())
		RETURNING created_at
	`, d.ID, d.OutletID, d.Note, d.CreatedBy, items).Scan(&d.CreatedAt)
}
