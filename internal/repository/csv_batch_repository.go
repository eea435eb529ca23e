package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"stockledger-backend/internal/domain"
)

const batchColumns = `id, channel, outlet_id, file_name, status, message, total_rows, created_by, created_at, updated_at, imported_at`

func scanBatch(row pgx.Row) (*domain.CsvImportBatch, error) {
	var (
		b        domain.CsvImportBatch
		imported pgtype.Timestamptz
	)
	if err := row.Scan(&b.ID, &b.Channel, &b.OutletID, &b.FileName, &b.Status, &b.Message, &b.TotalRows,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &imported); err != nil {
		return nil, notFound(err)
	}
	b.ImportedAt = timePtr(imported)
	return &b, nil
}

func importedAt(b *domain.CsvImportBatch) pgtype.Timestamptz {
	if b.ImportedAt == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *b.ImportedAt, Valid: true}
}

func (t *Tx) InsertCsvBatch(ctx context.Context, b *domain.CsvImportBatch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO csv_import_batches
		(id, channel, outlet_id, file_name, status, message, total_rows, created_by, created_at, updated_at, imported_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now(), now(), $9)
		RETURNING created_at, updated_at
	`, b.ID, b.Channel, b.OutletID, b.FileName, b.Status, b.Message, b.TotalRows, b.CreatedBy, importedAt(b)).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range b.Rows {
		r := &b.Rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.BatchID = b.ID
		var orderDate pgtype.Timestamptz
		if r.OrderDate != nil {
			orderDate = pgtype.Timestamptz{Time: *r.OrderDate, Valid: true}
		}
		batch.Queue(`
			INSERT INTO csv_import_rows
			(id, batch_id, row_number, external_order_id, external_sku, qty, price, order_date, variant_id, order_id, status, error_message)
			VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12)
		`, r.ID, r.BatchID, r.RowNumber, r.ExternalOrderID, r.ExternalSKU, r.Qty, decimalParam(r.Price), orderDate,
			r.VariantID, r.OrderID, r.Status, r.ErrorMessage)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert import rows: %w", err)
	}
	return nil
}

// GetCsvBatch locks the batch row so concurrent finalizes run one at a time.
func (t *Tx) GetCsvBatch(ctx context.Context, id string) (*domain.CsvImportBatch, error) {
	b, err := scanBatch(t.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM csv_import_batches WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, batch_id, row_number, external_order_id, external_sku, qty, price::text, order_date,
		       variant_id, order_id, status, error_message
		FROM csv_import_rows
		WHERE batch_id=$1
		ORDER BY row_number ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r         domain.CsvImportRow
			price     pgtype.Text
			orderDate pgtype.Timestamptz
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.RowNumber, &r.ExternalOrderID, &r.ExternalSKU, &r.Qty, &price,
			&orderDate, &r.VariantID, &r.OrderID, &r.Status, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if r.Price, err = nullableDecimal(price); err != nil {
			return nil, err
		}
		r.OrderDate = timePtr(orderDate)
		b.Rows = append(b.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *Tx) UpdateCsvBatch(ctx context.Context, b *domain.CsvImportBatch) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE csv_import_batches
		SET status=$1, message=$2, imported_at=$3, updated_at=now()
		WHERE id=$4
		RETURNING updated_at
	`, b.Status, b.Message, importedAt(b), b.ID).Scan(&b.UpdatedAt)
	if err != nil {
		return notFound(err)
	}

	batch := &pgx.Batch{}
	for _, r := range b.Rows {
		batch.Queue(`
			UPDATE csv_import_rows
			SET variant_id=$1, order_id=$2, status=$3, error_message=$4
			WHERE id=$5
		`, r.VariantID, r.OrderID, r.Status, r.ErrorMessage, r.ID)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update import rows: %w", err)
	}
	return nil
}

func (t *Tx) ListCsvBatches(ctx context.Context, limit int) ([]domain.CsvImportBatch, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+batchColumns+`
		FROM csv_import_batches
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.CsvImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *b)
	}
	return items, rows.Err()
}
