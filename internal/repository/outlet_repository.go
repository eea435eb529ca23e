package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

const outletColumns = `id, name, type, is_active, deleted_at, created_at, updated_at`

// defaultOutletLockKey serializes concurrent creation of the default warehouse.
const defaultOutletLockKey = 7301

func scanOutlet(row pgx.Row) (*domain.Outlet, error) {
	var (
		o         domain.Outlet
		isActive  bool
		deletedAt pgtype.Timestamptz
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Type, &isActive, &deletedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	o.Lifecycle = domain.LifecycleOf(isActive, timePtr(deletedAt))
	return &o, nil
}

func (t *Tx) GetOutlet(ctx context.Context, id string) (*domain.Outlet, error) {
	return scanOutlet(t.tx.QueryRow(ctx, `SELECT `+outletColumns+` FROM outlets WHERE id=$1`, id))
}

// FindDefaultOutlet reads without locking. Only on a miss does it take a
// transaction-scoped advisory lock and read again, so a caller creating the
// default outlet after ErrNotFound cannot race another.
func (t *Tx) FindDefaultOutlet(ctx context.Context) (*domain.Outlet, error) {
	o, err := t.selectDefaultOutlet(ctx)
	if !errors.Is(err, store.ErrNotFound) {
		return o, err
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, defaultOutletLockKey); err != nil {
		return nil, err
	}
	return t.selectDefaultOutlet(ctx)
}

func (t *Tx) selectDefaultOutlet(ctx context.Context) (*domain.Outlet, error) {
	return scanOutlet(t.tx.QueryRow(ctx, `
		SELECT `+outletColumns+`
		FROM outlets
		WHERE type=$1 AND is_active = TRUE AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, domain.OutletWarehouse))
}

func (t *Tx) CreateOutlet(ctx context.Context, o *domain.Outlet) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Lifecycle == "" {
		o.Lifecycle = domain.LifecycleActive
	}
	isActive, deletedAt := o.Lifecycle.Columns(time.Now().UTC())
	return t.tx.QueryRow(ctx, `
		INSERT INTO outlets (id, name, type, is_active, deleted_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5, now(), now())
		RETURNING created_at, updated_at
	`, o.ID, o.Name, o.Type, isActive, deletedAt).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (t *Tx) ListOutlets(ctx context.Context) ([]domain.Outlet, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+outletColumns+`
		FROM outlets
		WHERE deleted_at IS NULL
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Outlet
	for rows.Next() {
		o, err := scanOutlet(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *o)
	}
	return items, rows.Err()
}
