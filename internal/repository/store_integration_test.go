package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stockledger-backend/internal/config"
	"stockledger-backend/internal/db"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/ports"
	"stockledger-backend/internal/service"
	"stockledger-backend/internal/store"
)

var (
	adminActor = domain.Actor{UserID: "u-admin", Role: domain.RoleAdmin}
	staffActor = domain.Actor{UserID: "u-staff", Role: domain.RoleStaff}
)

const (
	teeM   = "var-KPH-M"
	shirtL = "var-KFL-L"
)

// newTestStore migrates and seeds a fresh schema on DATABASE_URL and drops
// it when the test ends.
func newTestStore(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	root, err := db.New(ctx, config.Config{DatabaseURL: url})
	require.NoError(t, err)
	schema := "ledger_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	_, err = root.Pool.Exec(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = root.Pool.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		root.Close()
	})

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	pg, err := db.New(ctx, config.Config{DatabaseURL: url + sep + "search_path=" + schema})
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	require.NoError(t, pg.Migrate(ctx))
	s := Store{DB: pg}
	require.NoError(t, s.SeedCatalog(ctx))
	return s
}

type services struct {
	ledger  service.LedgerService
	orders  service.OrderService
	skus    service.SkuService
	hooks   service.WebhookService
	imports service.CsvImportService
	catalog service.CatalogService
}

func newServices(st store.Store) services {
	outlets := service.OutletResolver{DefaultName: "Gudang Utama"}
	pub := ports.NopPublisher{}
	return services{
		ledger:  service.LedgerService{Store: st, Outlets: outlets, Events: pub},
		orders:  service.OrderService{Store: st, Outlets: outlets, Events: pub},
		skus:    service.SkuService{Store: st},
		hooks:   service.WebhookService{Store: st, Outlets: outlets, Events: pub},
		imports: service.CsvImportService{Store: st, Outlets: outlets, Events: pub},
		catalog: service.CatalogService{Store: st},
	}
}

func readQty(t *testing.T, st Store, outletID, variantID string) int {
	t.Helper()
	var qty int
	err := st.DB.Pool.QueryRow(context.Background(),
		`SELECT COALESCE((SELECT qty FROM stocks WHERE outlet_id=$1 AND variant_id=$2), 0)`,
		outletID, variantID).Scan(&qty)
	require.NoError(t, err)
	return qty
}

func requireConsistent(t *testing.T, svc services) {
	t.Helper()
	drifts, err := svc.ledger.VerifyLedger(context.Background(), staffActor, "", false)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestDefaultOutletCreatedOnceUnderConcurrency(t *testing.T) {
	st := newTestStore(t)
	svc := newServices(st)

	const workers = 6
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := svc.ledger.EnsureDefaultOutlet(context.Background())
			errs[i] = err
			if o != nil {
				ids[i] = o.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	outlets, err := svc.catalog.ListOutlets(context.Background())
	require.NoError(t, err)
	assert.Len(t, outlets, 1)
}

func TestConcurrentOrdersNeverOversellOnPostgres(t *testing.T) {
	st := newTestStore(t)
	svc := newServices(st)
	ctx := context.Background()

	warehouse, err := svc.ledger.EnsureDefaultOutlet(ctx)
	require.NoError(t, err)
	_, err = svc.ledger.StockIn(ctx, staffActor, service.StockInInput{
		Items: []service.StockLine{{VariantID: teeM, Qty: 5}},
	})
	require.NoError(t, err)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.orders.Create(ctx, staffActor, service.CreateOrderInput{
				Channel: domain.ChannelOfflineStore,
				Items:   []service.OrderLine{{VariantID: teeM, Qty: 3}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var short *domain.InsufficientStockError
		require.True(t, errors.As(err, &short), "unexpected error: %v", err)
		require.Len(t, short.Shortages, 1)
		assert.Equal(t, 3, short.Shortages[0].Need)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, readQty(t, st, warehouse.ID, teeM))
	requireConsistent(t, svc)
}

func TestConcurrentExternalOrderCreatesOneOrder(t *testing.T) {
	st := newTestStore(t)
	svc := newServices(st)
	ctx := context.Background()

	warehouse, err := svc.ledger.EnsureDefaultOutlet(ctx)
	require.NoError(t, err)
	_, err = svc.ledger.StockIn(ctx, staffActor, service.StockInInput{
		Items: []service.StockLine{{VariantID: teeM, Qty: 10}},
	})
	require.NoError(t, err)

	const workers = 4
	results := make([]service.CreateOrderResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.orders.Create(ctx, staffActor, service.CreateOrderInput{
				Channel:         domain.ChannelReseller,
				ExternalOrderID: "RS-500",
				Items:           []service.OrderLine{{VariantID: teeM, Qty: 2}},
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		}
		assert.Equal(t, results[0].Order.ID, results[i].Order.ID)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 8, readQty(t, st, warehouse.ID, teeM))
	requireConsistent(t, svc)
}

func TestWebhookDeliveredTwiceOnPostgres(t *testing.T) {
	st := newTestStore(t)
	svc := newServices(st)
	ctx := context.Background()

	warehouse, err := svc.ledger.EnsureDefaultOutlet(ctx)
	require.NoError(t, err)
	_, err = svc.ledger.StockIn(ctx, staffActor, service.StockInInput{
		Items: []service.StockLine{{VariantID: teeM, Qty: 10}},
	})
	require.NoError(t, err)
	_, err = svc.skus.Create(ctx, adminActor, service.CreateMappingInput{
		Channel: domain.ChannelShopee, ExternalSkuID: "SHP-KPH-M", VariantID: teeM,
	})
	require.NoError(t, err)

	body := []byte(`{"data":{"ordersn":"SP-900","status":"READY_TO_SHIP","item_list":[{"model_sku":"SHP-KPH-M","model_quantity_purchased":2}]}}`)
	results := make([]service.WebhookResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.hooks.Receive(ctx, domain.ChannelShopee, body)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate)
	assert.Equal(t, results[0].Event.ID, results[1].Event.ID)

	events, err := svc.hooks.List(ctx, domain.WebhookEventFilter{Channel: domain.ChannelShopee})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.WebhookProcessed, events[0].Status)

	orders, err := svc.orders.List(ctx, domain.OrderFilter{Channel: domain.ChannelShopee})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 8, readQty(t, st, warehouse.ID, teeM))

	again, err := svc.hooks.Receive(ctx, domain.ChannelShopee, body)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 8, readQty(t, st, warehouse.ID, teeM))
	requireConsistent(t, svc)
}

func TestVerifyLedgerOnPostgres(t *testing.T) {
	st := newTestStore(t)
	svc := newServices(st)
	ctx := context.Background()

	warehouse, err := svc.ledger.EnsureDefaultOutlet(ctx)
	require.NoError(t, err)
	shop, err := svc.catalog.CreateOutlet(ctx, adminActor, service.CreateOutletInput{Name: "Toko Bandung", Type: domain.OutletOfflineStore})
	require.NoError(t, err)

	_, err = svc.ledger.StockIn(ctx, staffActor, service.StockInInput{
		Items: []service.StockLine{{VariantID: teeM, Qty: 10}, {VariantID: shirtL, Qty: 4}},
	})
	require.NoError(t, err)
	_, err = svc.ledger.Transfer(ctx, staffActor, service.TransferInput{
		FromOutletID: warehouse.ID,
		ToOutletID:   shop.ID,
		Items:        []service.StockLine{{VariantID: teeM, Qty: 4}},
	})
	require.NoError(t, err)
	_, err = svc.ledger.Adjust(ctx, adminActor, service.AdjustmentInput{VariantID: shirtL, DeltaQty: -1, Reason: "damaged in storage"})
	require.NoError(t, err)
	_, err = svc.ledger.Opname(ctx, adminActor, service.OpnameInput{
		OutletID: shop.ID,
		Items:    []service.OpnameLine{{VariantID: teeM, CountedQty: 3}},
	})
	require.NoError(t, err)
	_, err = svc.orders.Create(ctx, staffActor, service.CreateOrderInput{
		Channel:  domain.ChannelOfflineStore,
		OutletID: shop.ID,
		Items:    []service.OrderLine{{VariantID: teeM, Qty: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, 6, readQty(t, st, warehouse.ID, teeM))
	assert.Equal(t, 2, readQty(t, st, shop.ID, teeM))
	assert.Equal(t, 3, readQty(t, st, warehouse.ID, shirtL))
	requireConsistent(t, svc)

	_, err = st.DB.Pool.Exec(ctx, `UPDATE stocks SET qty = qty + 5 WHERE outlet_id=$1 AND variant_id=$2`, warehouse.ID, teeM)
	require.NoError(t, err)

	drifts, err := svc.ledger.VerifyLedger(ctx, staffActor, warehouse.ID, false)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, domain.LedgerDrift{OutletID: warehouse.ID, VariantID: teeM, StockQty: 11, MovementSum: 6}, drifts[0])

	_, err = svc.ledger.VerifyLedger(ctx, adminActor, warehouse.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 6, readQty(t, st, warehouse.ID, teeM))
	requireConsistent(t, svc)
}

func TestCsvBatchRoundTripOnPostgres(t *testing.T) {
	st := newTestStore(t)
	svc := newServices(st)
	ctx := context.Background()

	warehouse, err := svc.ledger.EnsureDefaultOutlet(ctx)
	require.NoError(t, err)
	_, err = svc.ledger.StockIn(ctx, staffActor, service.StockInInput{
		Items: []service.StockLine{{VariantID: teeM, Qty: 5}, {VariantID: shirtL, Qty: 5}},
	})
	require.NoError(t, err)
	_, err = svc.skus.Create(ctx, adminActor, service.CreateMappingInput{
		Channel: domain.ChannelShopee, ExternalSkuID: "SHP-KPH-M", VariantID: teeM,
	})
	require.NoError(t, err)

	in := service.ImportInput{
		Channel:  domain.ChannelShopee,
		FileName: "export.csv",
		CsvText: "order,sku,qty,price\n" +
			"SP-A,SHP-KPH-M,2,85000\n" +
			"SP-A,SHP-KFL-L,1,\n" +
			"SP-B,SHP-KPH-M,1,\n",
		Mapping: service.ColumnMapping{OrderID: "order", SKU: "sku", Qty: "qty", Price: "price"},
	}
	b, err := svc.imports.Submit(ctx, adminActor, in)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchNeedsMapping, b.Status)

	stored, err := svc.imports.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored.Rows, 3)
	assert.Equal(t, domain.RowUnmapped, stored.Rows[1].Status)
	require.NotNil(t, stored.Rows[0].Price)
	assert.True(t, stored.Rows[0].Price.Equal(decimal.NewFromInt(85000)))

	_, err = svc.skus.Create(ctx, adminActor, service.CreateMappingInput{
		Channel: domain.ChannelShopee, ExternalSkuID: "SHP-KFL-L", VariantID: shirtL,
	})
	require.NoError(t, err)
	done, err := svc.imports.Finalize(ctx, adminActor, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, done.Status)

	again, err := svc.imports.Finalize(ctx, adminActor, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, again.Status)

	assert.Equal(t, 2, readQty(t, st, warehouse.ID, teeM))
	assert.Equal(t, 4, readQty(t, st, warehouse.ID, shirtL))
	stored, err = svc.imports.Get(ctx, b.ID)
	require.NoError(t, err)
	for _, r := range stored.Rows {
		assert.Equal(t, domain.RowImported, r.Status, fmt.Sprintf("row %d", r.RowNumber))
		assert.NotEmpty(t, r.OrderID)
	}
	requireConsistent(t, svc)
}
