package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/ports"
	"stockledger-backend/internal/store"
)

const defaultListLimit = 200

var tracer = otel.Tracer("stockledger-backend/internal/service")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func publish(ctx context.Context, pub ports.EventPublisher, evs ...events.Event) {
	if pub == nil || len(evs) == 0 {
		return
	}
	pub.Publish(ctx, evs...)
}

func loggerOr(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// withTxDedup runs fn once more when it fails on a unique key that a
// concurrent transaction committed first. The second run sees that row.
func withTxDedup(ctx context.Context, st store.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	err := st.WithTx(ctx, fn)
	if errors.Is(err, store.ErrDuplicate) {
		err = st.WithTx(ctx, fn)
	}
	return err
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

func requireAdmin(actor domain.Actor) error {
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

// OutletResolver picks the outlet an operation applies to.
type OutletResolver struct {
	DefaultName string
}

// Resolve returns the requested outlet, or the default warehouse when id is
// empty. The default warehouse is created on first use.
func (r OutletResolver) Resolve(ctx context.Context, tx store.Tx, id string) (*domain.Outlet, error) {
	if id == "" {
		return r.ensureDefault(ctx, tx)
	}
	o, err := tx.GetOutlet(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("outlet %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	if o.Lifecycle != domain.LifecycleActive {
		return nil, fmt.Errorf("outlet %s: %w", id, domain.ErrOutletInactive)
	}
	return o, nil
}

func (r OutletResolver) ensureDefault(ctx context.Context, tx store.Tx) (*domain.Outlet, error) {
	o, err := tx.FindDefaultOutlet(ctx)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	name := r.DefaultName
	if name == "" {
		name = "Gudang Utama"
	}
	o = &domain.Outlet{Name: name, Type: domain.OutletWarehouse, Lifecycle: domain.LifecycleActive}
	if err := tx.CreateOutlet(ctx, o); err != nil {
		return nil, fmt.Errorf("create default outlet: %w", err)
	}
	return o, nil
}

// loadVariants fetches variants and fails on the first unknown or deleted id.
func loadVariants(ctx context.Context, tx store.Tx, ids []string) (map[string]domain.Variant, error) {
	variants, err := tx.GetVariants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		v, ok := variants[id]
		if !ok || v.Lifecycle == domain.LifecycleDeleted {
			return nil, fmt.Errorf("variant %s: %w", id, store.ErrNotFound)
		}
	}
	return variants, nil
}
