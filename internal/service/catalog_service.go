package service

import (
	"context"
	"strings"

	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

// CatalogService exposes outlets and variants. Product catalog writes are
// owned by another system; outlets can be created here.
type CatalogService struct {
	Store store.Store
}

type CreateOutletInput struct {
	Name string
	Type domain.OutletType
}

func (s CatalogService) ListOutlets(ctx context.Context) ([]domain.Outlet, error) {
	var out []domain.Outlet
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListOutlets(ctx)
		return err
	})
	return out, err
}

func (s CatalogService) CreateOutlet(ctx context.Context, actor domain.Actor, in CreateOutletInput) (*domain.Outlet, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Invalid("name", "is required")
	}
	switch in.Type {
	case domain.OutletWarehouse, domain.OutletOfflineStore, domain.OutletOnline:
	case "":
		in.Type = domain.OutletOfflineStore
	default:
		return nil, domain.Invalid("type", "unknown outlet type %q", in.Type)
	}

	o := &domain.Outlet{Name: name, Type: in.Type, Lifecycle: domain.LifecycleActive}
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateOutlet(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s CatalogService) ListVariants(ctx context.Context, limit int) ([]domain.Variant, error) {
	var out []domain.Variant
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListVariants(ctx, listLimit(limit))
		return err
	})
	return out, err
}
