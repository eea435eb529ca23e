// Package store defines the persistence contract shared by the PostgreSQL
// repository and the in-memory store.
package store

import (
	"context"
	"errors"

	"stockledger-backend/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (idempotency key, external
	// order id, sku mapping) already exists.
	ErrDuplicate = errors.New("duplicate")
)

// Store opens units of work. Everything done through the Tx passed to fn
// commits together when fn returns nil and is discarded otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Health(ctx context.Context) error
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	Outlets
	Catalog
	Ledger
	Orders
	Documents
	SkuMaps
	WebhookEvents
	CsvBatches
}

type Outlets interface {
	GetOutlet(ctx context.Context, id string) (*domain.Outlet, error)
	// FindDefaultOutlet returns the oldest active warehouse outlet.
	FindDefaultOutlet(ctx context.Context) (*domain.Outlet, error)
	CreateOutlet(ctx context.Context, o *domain.Outlet) error
	ListOutlets(ctx context.Context) ([]domain.Outlet, error)
}

type Catalog interface {
	GetVariants(ctx context.Context, ids []string) (map[string]domain.Variant, error)
	ListVariants(ctx context.Context, limit int) ([]domain.Variant, error)
}

type Ledger interface {
	// LockStock locks the Stock rows for keys, creating zero rows when
	// missing, and returns their current quantities.
	LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error)
	// ReadStock returns quantities without locking. Missing rows read as 0.
	ReadStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error)
	SetStock(ctx context.Context, key domain.StockKey, qty int) error
	ListStock(ctx context.Context, outletID string, limit int) ([]domain.Stock, error)

	InsertMovement(ctx context.Context, m *domain.StockMovement) error
	// MovedQty sums movement quantities per variant recorded under a cause.
	MovedQty(ctx context.Context, refType domain.RefType, refID string) (map[string]int, error)
	ListMovements(ctx context.Context, f domain.MovementFilter) ([]domain.StockMovement, error)
	// MovementBalances returns the signed movement sum per Stock key.
	MovementBalances(ctx context.Context, outletID string) (map[domain.StockKey]int, error)
	// AllStock returns every Stock row of an outlet (all outlets when empty).
	AllStock(ctx context.Context, outletID string) (map[domain.StockKey]int, error)
}

type Orders interface {
	// InsertOrder stores the order and its items. Returns ErrDuplicate when
	// (channel, externalOrderId) already exists.
	InsertOrder(ctx context.Context, o *domain.Order) error
	// UpdateOrder updates status, totals and replaces the items.
	UpdateOrder(ctx context.Context, o *domain.Order) error
	// GetOrder loads and locks an order with its items.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	FindOrderByExternalID(ctx context.Context, channel domain.Channel, externalOrderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
}

type Documents interface {
	InsertStockIn(ctx context.Context, d *domain.StockIn) error
	InsertStockTransfer(ctx context.Context, d *domain.StockTransfer) error
	InsertStockAdjustment(ctx context.Context, d *domain.StockAdjustment) error
	InsertStockOpname(ctx context.Context, d *domain.StockOpname) error
}

type SkuMaps interface {
	// ResolveSkus returns externalSkuId -> variantId for the SKUs that are mapped.
	ResolveSkus(ctx context.Context, channel domain.Channel, skus []string) (map[string]string, error)
	InsertSkuMap(ctx context.Context, m *domain.ChannelSkuMap) error
	ListSkuMaps(ctx context.Context, channel domain.Channel) ([]domain.ChannelSkuMap, error)
	DeleteSkuMap(ctx context.Context, id string) error
}

type WebhookEvents interface {
	// InsertWebhookEvent returns ErrDuplicate when the idempotency key exists.
	InsertWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error
	FindWebhookEventByKey(ctx context.Context, key string) (*domain.WebhookEvent, error)
	// GetWebhookEvent loads and locks the event.
	GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error
	ListWebhookEvents(ctx context.Context, f domain.WebhookEventFilter) ([]domain.WebhookEvent, error)
}

type CsvBatches interface {
	InsertCsvBatch(ctx context.Context, b *domain.CsvImportBatch) error
	// GetCsvBatch loads and locks a batch with its rows ordered by row number.
	GetCsvBatch(ctx context.Context, id string) (*domain.CsvImportBatch, error)
	// UpdateCsvBatch stores batch status and every row's resolution state.
	UpdateCsvBatch(ctx context.Context, b *domain.CsvImportBatch) error
	ListCsvBatches(ctx context.Context, limit int) ([]domain.CsvImportBatch, error)
}
