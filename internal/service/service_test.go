package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/store"
	"stockledger-backend/internal/store/memory"
)

var (
	admin = domain.Actor{UserID: "u-admin", Role: domain.RoleAdmin}
	staff = domain.Actor{UserID: "u-staff", Role: domain.RoleStaff}
)

type capturePublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, evs ...events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, evs...)
}

func (p *capturePublisher) kinds(kind string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store   *memory.Store
	pub     *capturePublisher
	ledger  LedgerService
	orders  OrderService
	skus    SkuService
	hooks   WebhookService
	imports CsvImportService
	catalog CatalogService

	warehouse *domain.Outlet
	store2    *domain.Outlet
	tee       domain.Variant
	shirt     domain.Variant
	retired   domain.Variant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	pub := &capturePublisher{}
	outlets := OutletResolver{DefaultName: "Gudang Utama"}

	f := &fixture{
		store:   st,
		pub:     pub,
		ledger:  LedgerService{Store: st, Outlets: outlets, Events: pub},
		orders:  OrderService{Store: st, Outlets: outlets, Events: pub},
		skus:    SkuService{Store: st},
		hooks:   WebhookService{Store: st, Outlets: outlets, Events: pub},
		imports: CsvImportService{Store: st, Outlets: outlets, Events: pub},
		catalog: CatalogService{Store: st},
		tee: domain.Variant{
			ID: "v-tee-m", ProductID: "p-tee", ProductName: "Kaos Polos", Size: "M", SKU: "KPH-M",
			Price: decimal.NewFromInt(89000), MinQty: 2,
			Lifecycle: domain.LifecycleActive, ProductLifecycle: domain.LifecycleActive,
		},
		shirt: domain.Variant{
			ID: "v-shirt-l", ProductID: "p-shirt", ProductName: "Kemeja Flanel", Size: "L", SKU: "KFL-L",
			Price: decimal.NewFromInt(189000), MinQty: 0,
			Lifecycle: domain.LifecycleActive, ProductLifecycle: domain.LifecycleActive,
		},
		retired: domain.Variant{
			ID: "v-old-s", ProductID: "p-old", ProductName: "Jaket Lama", Size: "S", SKU: "JKL-S",
			Price: decimal.NewFromInt(250000),
			Lifecycle: domain.LifecycleActive, ProductLifecycle: domain.LifecycleDeactivated,
		},
	}
	st.PutVariant(f.tee)
	st.PutVariant(f.shirt)
	st.PutVariant(f.retired)

	var err error
	f.warehouse, err = f.ledger.EnsureDefaultOutlet(context.Background())
	require.NoError(t, err)
	f.store2, err = f.catalog.CreateOutlet(context.Background(), admin, CreateOutletInput{Name: "Toko Bandung", Type: domain.OutletOfflineStore})
	require.NoError(t, err)
	return f
}

func (f *fixture) stockIn(t *testing.T, outletID, variantID string, qty int) {
	t.Helper()
	_, err := f.ledger.StockIn(context.Background(), staff, StockInInput{
		OutletID: outletID,
		Items:    []StockLine{{VariantID: variantID, Qty: qty}},
	})
	require.NoError(t, err)
}

func (f *fixture) qty(t *testing.T, outletID, variantID string) int {
	t.Helper()
	key := domain.StockKey{OutletID: outletID, VariantID: variantID}
	var out int
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		m, err := tx.ReadStock(ctx, []domain.StockKey{key})
		out = m[key]
		return err
	}))
	return out
}

func (f *fixture) movements(t *testing.T, filter domain.MovementFilter) []domain.StockMovement {
	t.Helper()
	out, err := f.ledger.ListMovements(context.Background(), filter)
	require.NoError(t, err)
	return out
}

func (f *fixture) mapSku(t *testing.T, channel domain.Channel, sku, variantID string) {
	t.Helper()
	_, err := f.skus.Create(context.Background(), admin, CreateMappingInput{Channel: channel, ExternalSkuID: sku, VariantID: variantID})
	require.NoError(t, err)
}

// requireLedgerConsistent asserts every Stock row equals its movement sum.
func (f *fixture) requireLedgerConsistent(t *testing.T) {
	t.Helper()
	drifts, err := f.ledger.VerifyLedger(context.Background(), staff, "", false)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

// flakyStore fails the n-th WithTx call (1-based) with errDBDown.
type flakyStore struct {
	store.Store
	mu     sync.Mutex
	calls  int
	failOn int
}

var errDBDown = errors.New("db down")

func (s *flakyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == s.failOn
	s.mu.Unlock()
	if fail {
		return errDBDown
	}
	return s.Store.WithTx(ctx, fn)
}

// staleReadStore makes the first misses FindOrderByExternalID calls report
// not found, as when another transaction commits the order right after the
// lookup ran.
type staleReadStore struct {
	store.Store
	mu     sync.Mutex
	misses int
}

func (s *staleReadStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, staleReadTx{Tx: tx, s: s})
	})
}

type staleReadTx struct {
	store.Tx
	s *staleReadStore
}

func (t staleReadTx) FindOrderByExternalID(ctx context.Context, channel domain.Channel, externalOrderID string) (*domain.Order, error) {
	t.s.mu.Lock()
	miss := t.s.misses > 0
	if miss {
		t.s.misses--
	}
	t.s.mu.Unlock()
	if miss {
		return nil, store.ErrNotFound
	}
	return t.Tx.FindOrderByExternalID(ctx, channel, externalOrderID)
}
