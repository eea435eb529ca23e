package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

const webhookColumns = `id, channel, idempotency_key, external_order_id, payload, status, error_message, attempts, received_at, processed_at`

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		e         domain.WebhookEvent
		processed pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.Channel, &e.IdempotencyKey, &e.ExternalOrderID, &e.Payload, &e.Status,
		&e.ErrorMessage, &e.Attempts, &e.ReceivedAt, &processed); err != nil {
		return nil, notFound(err)
	}
	e.ProcessedAt = timePtr(processed)
	return &e, nil
}

// InsertWebhookEvent does not raise a unique violation on a repeated key, so
// the surrounding transaction stays usable.
func (t *Tx) InsertWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO webhook_events
		(id, channel, idempotency_key, external_order_id, payload, status, error_message, attempts, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, COALESCE($9, now()))
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING received_at
	`, e.ID, e.Channel, e.IdempotencyKey, e.ExternalOrderID, e.Payload, e.Status, e.ErrorMessage, e.Attempts,
		pgtype.Timestamptz{Time: e.ReceivedAt, Valid: !e.ReceivedAt.IsZero()}).Scan(&e.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrDuplicate
	}
	return err
}

func (t *Tx) FindWebhookEventByKey(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	return scanWebhookEvent(t.tx.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE idempotency_key=$1`, key))
}

// GetWebhookEvent locks the event so concurrent retries process it once.
func (t *Tx) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	return scanWebhookEvent(t.tx.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id=$1 FOR UPDATE`, id))
}

func (t *Tx) UpdateWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error {
	var processed pgtype.Timestamptz
	if e.ProcessedAt != nil {
		processed = pgtype.Timestamptz{Time: *e.ProcessedAt, Valid: true}
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE webhook_events
		SET status=$1, error_message=$2, attempts=$3, external_order_id=$4, processed_at=$5
		WHERE id=$6
	`, e.Status, e.ErrorMessage, e.Attempts, e.ExternalOrderID, processed, e.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *Tx) ListWebhookEvents(ctx context.Context, f domain.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.Channel != "" {
		args = append(args, f.Channel)
		where = append(where, fmt.Sprintf("channel=$%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + webhookColumns + ` FROM webhook_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrAll(f.Limit))
	query += fmt.Sprintf(" ORDER BY received_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	return items, rows.Err()
}
