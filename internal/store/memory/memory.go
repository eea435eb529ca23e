// Package memory is an in-process Store used in development mode and tests.
// Transactions are serialized by a single mutex and run against a copy of
// the state that replaces the live state only on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

type stockRow struct {
	qty       int
	updatedAt time.Time
}

type state struct {
	outlets     map[string]domain.Outlet
	variants    map[string]domain.Variant
	stock       map[domain.StockKey]stockRow
	movements   []domain.StockMovement
	orders      map[string]domain.Order
	ordersByExt map[string]string
	stockIns    map[string]domain.StockIn
	transfers   map[string]domain.StockTransfer
	adjustments map[string]domain.StockAdjustment
	opnames     map[string]domain.StockOpname
	skuMaps     map[string]domain.ChannelSkuMap
	skuIndex    map[string]string
	events      map[string]domain.WebhookEvent
	eventsByKey map[string]string
	batches     map[string]domain.CsvImportBatch
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: &state{
		outlets:     map[string]domain.Outlet{},
		variants:    map[string]domain.Variant{},
		stock:       map[domain.StockKey]stockRow{},
		orders:      map[string]domain.Order{},
		ordersByExt: map[string]string{},
		stockIns:    map[string]domain.StockIn{},
		transfers:   map[string]domain.StockTransfer{},
		adjustments: map[string]domain.StockAdjustment{},
		opnames:     map[string]domain.StockOpname{},
		skuMaps:     map[string]domain.ChannelSkuMap{},
		skuIndex:    map[string]string{},
		events:      map[string]domain.WebhookEvent{},
		eventsByKey: map[string]string{},
		batches:     map[string]domain.CsvImportBatch{},
	}}
}

// NewSeeded returns a store holding store.DemoCatalog.
func NewSeeded() *Store {
	s := New()
	for _, v := range store.DemoCatalog() {
		s.PutVariant(v)
	}
	return s
}

// PutVariant inserts or replaces a catalog variant. Catalog writes are not
// part of the Tx contract.
func (s *Store) PutVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.variants[v.ID] = v
}

func (s *Store) Health(context.Context) error { return nil }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &tx{st: work, now: time.Now().UTC()}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *state) clone() *state {
	c := &state{
		outlets:     make(map[string]domain.Outlet, len(st.outlets)),
		variants:    make(map[string]domain.Variant, len(st.variants)),
		stock:       make(map[domain.StockKey]stockRow, len(st.stock)),
		movements:   append([]domain.StockMovement(nil), st.movements...),
		orders:      make(map[string]domain.Order, len(st.orders)),
		ordersByExt: make(map[string]string, len(st.ordersByExt)),
		stockIns:    make(map[string]domain.StockIn, len(st.stockIns)),
		transfers:   make(map[string]domain.StockTransfer, len(st.transfers)),
		adjustments: make(map[string]domain.StockAdjustment, len(st.adjustments)),
		opnames:     make(map[string]domain.StockOpname, len(st.opnames)),
		skuMaps:     make(map[string]domain.ChannelSkuMap, len(st.skuMaps)),
		skuIndex:    make(map[string]string, len(st.skuIndex)),
		events:      make(map[string]domain.WebhookEvent, len(st.events)),
		eventsByKey: make(map[string]string, len(st.eventsByKey)),
		batches:     make(map[string]domain.CsvImportBatch, len(st.batches)),
	}
	copyMap(c.outlets, st.outlets)
	copyMap(c.variants, st.variants)
	copyMap(c.stock, st.stock)
	copyMap(c.orders, st.orders)
	copyMap(c.ordersByExt, st.ordersByExt)
	copyMap(c.stockIns, st.stockIns)
	copyMap(c.transfers, st.transfers)
	copyMap(c.adjustments, st.adjustments)
	copyMap(c.opnames, st.opnames)
	copyMap(c.skuMaps, st.skuMaps)
	copyMap(c.skuIndex, st.skuIndex)
	copyMap(c.events, st.events)
	copyMap(c.eventsByKey, st.eventsByKey)
	copyMap(c.batches, st.batches)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// Values stored in the state are never mutated in place, so copying the
// maps is enough; slices inside values are cloned on write and read.
type tx struct {
	st  *state
	now time.Time
}

// Outlets

func (t *tx) GetOutlet(_ context.Context, id string) (*domain.Outlet, error) {
	o, ok := t.st.outlets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (t *tx) FindDefaultOutlet(_ context.Context) (*domain.Outlet, error) {
	var best *domain.Outlet
	for _, o := range t.st.outlets {
		if o.Type != domain.OutletWarehouse || o.Lifecycle != domain.LifecycleActive {
			continue
		}
		if best == nil || o.CreatedAt.Before(best.CreatedAt) || (o.CreatedAt.Equal(best.CreatedAt) && o.ID < best.ID) {
			o := o
			best = &o
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *tx) CreateOutlet(_ context.Context, o *domain.Outlet) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Lifecycle == "" {
		o.Lifecycle = domain.LifecycleActive
	}
	o.CreatedAt, o.UpdatedAt = t.now, t.now
	t.st.outlets[o.ID] = *o
	return nil
}

func (t *tx) ListOutlets(_ context.Context) ([]domain.Outlet, error) {
	out := make([]domain.Outlet, 0, len(t.st.outlets))
	for _, o := range t.st.outlets {
		if o.Lifecycle == domain.LifecycleDeleted {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Catalog

func (t *tx) GetVariants(_ context.Context, ids []string) (map[string]domain.Variant, error) {
	out := make(map[string]domain.Variant, len(ids))
	for _, id := range ids {
		if v, ok := t.st.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (t *tx) ListVariants(_ context.Context, limit int) ([]domain.Variant, error) {
	out := make([]domain.Variant, 0, len(t.st.variants))
	for _, v := range t.st.variants {
		if v.Lifecycle == domain.LifecycleDeleted {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return truncate(out, limit), nil
}

// Ledger

func (t *tx) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	for _, k := range keys {
		if _, ok := t.st.stock[k]; !ok {
			t.st.stock[k] = stockRow{updatedAt: t.now}
		}
	}
	return t.ReadStock(ctx, keys)
}

func (t *tx) ReadStock(_ context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	out := make(map[domain.StockKey]int, len(keys))
	for _, k := range keys {
		out[k] = t.st.stock[k].qty
	}
	return out, nil
}

func (t *tx) SetStock(_ context.Context, key domain.StockKey, qty int) error {
	t.st.stock[key] = stockRow{qty: qty, updatedAt: t.now}
	return nil
}

func (t *tx) ListStock(_ context.Context, outletID string, limit int) ([]domain.Stock, error) {
	out := make([]domain.Stock, 0)
	for k, row := range t.st.stock {
		if outletID != "" && k.OutletID != outletID {
			continue
		}
		out = append(out, domain.Stock{
			OutletID:  k.OutletID,
			VariantID: k.VariantID,
			SKU:       t.st.variants[k.VariantID].SKU,
			Qty:       row.qty,
			UpdatedAt: row.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OutletID != out[j].OutletID {
			return out[i].OutletID < out[j].OutletID
		}
		return out[i].SKU < out[j].SKU
	})
	return truncate(out, limit), nil
}

func (t *tx) InsertMovement(_ context.Context, m *domain.StockMovement) error {
	for _, existing := range t.st.movements {
		if existing.RefType == m.RefType && existing.RefID == m.RefID &&
			existing.VariantID == m.VariantID && existing.Type == m.Type {
			return store.ErrDuplicate
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = t.now
	t.st.movements = append(t.st.movements, *m)
	return nil
}

func (t *tx) MovedQty(_ context.Context, refType domain.RefType, refID string) (map[string]int, error) {
	out := map[string]int{}
	for _, m := range t.st.movements {
		if m.RefType == refType && m.RefID == refID {
			out[m.VariantID] += m.Qty
		}
	}
	return out, nil
}

func (t *tx) ListMovements(_ context.Context, f domain.MovementFilter) ([]domain.StockMovement, error) {
	out := make([]domain.StockMovement, 0)
	for i := len(t.st.movements) - 1; i >= 0; i-- {
		m := t.st.movements[i]
		if f.OutletID != "" && m.OutletID != f.OutletID {
			continue
		}
		if f.VariantID != "" && m.VariantID != f.VariantID {
			continue
		}
		if f.RefType != "" && m.RefType != f.RefType {
			continue
		}
		if f.RefID != "" && m.RefID != f.RefID {
			continue
		}
		out = append(out, m)
	}
	return truncate(out, f.Limit), nil
}

func (t *tx) MovementBalances(_ context.Context, outletID string) (map[domain.StockKey]int, error) {
	out := map[domain.StockKey]int{}
	for _, m := range t.st.movements {
		if outletID != "" && m.OutletID != outletID {
			continue
		}
		out[domain.StockKey{OutletID: m.OutletID, VariantID: m.VariantID}] += m.SignedQty()
	}
	return out, nil
}

func (t *tx) AllStock(_ context.Context, outletID string) (map[domain.StockKey]int, error) {
	out := map[domain.StockKey]int{}
	for k, row := range t.st.stock {
		if outletID != "" && k.OutletID != outletID {
			continue
		}
		out[k] = row.qty
	}
	return out, nil
}

// Orders

func externalKey(channel domain.Channel, externalOrderID string) string {
	return string(channel) + "|" + externalOrderID
}

func (t *tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if o.ExternalOrderID != "" {
		if _, ok := t.st.ordersByExt[externalKey(o.Channel, o.ExternalOrderID)]; ok {
			return store.ErrDuplicate
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt, o.UpdatedAt = t.now, t.now
	t.assignItemIDs(o)
	t.st.orders[o.ID] = cloneOrder(*o)
	if o.ExternalOrderID != "" {
		t.st.ordersByExt[externalKey(o.Channel, o.ExternalOrderID)] = o.ID
	}
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o *domain.Order) error {
	current, ok := t.st.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	o.CreatedAt = current.CreatedAt
	o.UpdatedAt = t.now
	t.assignItemIDs(o)
	t.st.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *tx) assignItemIDs(o *domain.Order) {
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Items[i].OrderID = o.ID
	}
}

func (t *tx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (t *tx) FindOrderByExternalID(ctx context.Context, channel domain.Channel, externalOrderID string) (*domain.Order, error) {
	id, ok := t.st.ordersByExt[externalKey(channel, externalOrderID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetOrder(ctx, id)
}

func (t *tx) ListOrders(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	out := make([]domain.Order, 0)
	for _, o := range t.st.orders {
		if f.Channel != "" && o.Channel != f.Channel {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, f.Limit), nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// Documents

func (t *tx) InsertStockIn(_ context.Context, d *domain.StockIn) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = t.now
	c := *d
	c.Items = append([]domain.StockInItem(nil), d.Items...)
	t.st.stockIns[d.ID] = c
	return nil
}

func (t *tx) InsertStockTransfer(_ context.Context, d *domain.StockTransfer) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = t.now
	c := *d
	c.Items = append([]domain.StockTransferItem(nil), d.Items...)
	t.st.transfers[d.ID] = c
	return nil
}

func (t *tx) InsertStockAdjustment(_ context.Context, d *domain.StockAdjustment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = t.now
	t.st.adjustments[d.ID] = *d
	return nil
}

func (t *tx) InsertStockOpname(_ context.Context, d *domain.StockOpname) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = t.now
	c := *d
	c.Items = append([]domain.StockOpnameItem(nil), d.Items...)
	t.st.opnames[d.ID] = c
	return nil
}

// SKU maps

func skuKey(channel domain.Channel, sku string) string {
	return string(channel) + "|" + sku
}

func (t *tx) ResolveSkus(_ context.Context, channel domain.Channel, skus []string) (map[string]string, error) {
	out := make(map[string]string, len(skus))
	for _, sku := range skus {
		if id, ok := t.st.skuIndex[skuKey(channel, sku)]; ok {
			out[sku] = t.st.skuMaps[id].VariantID
		}
	}
	return out, nil
}

func (t *tx) InsertSkuMap(_ context.Context, m *domain.ChannelSkuMap) error {
	key := skuKey(m.Channel, m.ExternalSkuID)
	if _, ok := t.st.skuIndex[key]; ok {
		return store.ErrDuplicate
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = t.now
	t.st.skuMaps[m.ID] = *m
	t.st.skuIndex[key] = m.ID
	return nil
}

func (t *tx) ListSkuMaps(_ context.Context, channel domain.Channel) ([]domain.ChannelSkuMap, error) {
	out := make([]domain.ChannelSkuMap, 0, len(t.st.skuMaps))
	for _, m := range t.st.skuMaps {
		if channel != "" && m.Channel != channel {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].ExternalSkuID < out[j].ExternalSkuID
	})
	return out, nil
}

func (t *tx) DeleteSkuMap(_ context.Context, id string) error {
	m, ok := t.st.skuMaps[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(t.st.skuMaps, id)
	delete(t.st.skuIndex, skuKey(m.Channel, m.ExternalSkuID))
	return nil
}

// Webhook events

func (t *tx) InsertWebhookEvent(_ context.Context, e *domain.WebhookEvent) error {
	if _, ok := t.st.eventsByKey[e.IdempotencyKey]; ok {
		return store.ErrDuplicate
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = t.now
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	t.st.events[e.ID] = c
	t.st.eventsByKey[e.IdempotencyKey] = e.ID
	return nil
}

func (t *tx) FindWebhookEventByKey(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	id, ok := t.st.eventsByKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetWebhookEvent(ctx, id)
}

func (t *tx) GetWebhookEvent(_ context.Context, id string) (*domain.WebhookEvent, error) {
	e, ok := t.st.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return &e, nil
}

func (t *tx) UpdateWebhookEvent(_ context.Context, e *domain.WebhookEvent) error {
	if _, ok := t.st.events[e.ID]; !ok {
		return store.ErrNotFound
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	t.st.events[e.ID] = c
	return nil
}

func (t *tx) ListWebhookEvents(_ context.Context, f domain.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	allowed := make(map[domain.WebhookStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		allowed[s] = true
	}
	out := make([]domain.WebhookEvent, 0)
	for _, e := range t.st.events {
		if f.Channel != "" && e.Channel != f.Channel {
			continue
		}
		if len(allowed) > 0 && !allowed[e.Status] {
			continue
		}
		e.Payload = append([]byte(nil), e.Payload...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return truncate(out, f.Limit), nil
}

// CSV batches

func (t *tx) InsertCsvBatch(_ context.Context, b *domain.CsvImportBatch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt, b.UpdatedAt = t.now, t.now
	for i := range b.Rows {
		if b.Rows[i].ID == "" {
			b.Rows[i].ID = uuid.NewString()
		}
		b.Rows[i].BatchID = b.ID
	}
	t.st.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (t *tx) GetCsvBatch(_ context.Context, id string) (*domain.CsvImportBatch, error) {
	b, ok := t.st.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := cloneBatch(b)
	return &c, nil
}

func (t *tx) UpdateCsvBatch(_ context.Context, b *domain.CsvImportBatch) error {
	current, ok := t.st.batches[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	b.CreatedAt = current.CreatedAt
	b.UpdatedAt = t.now
	t.st.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (t *tx) ListCsvBatches(_ context.Context, limit int) ([]domain.CsvImportBatch, error) {
	out := make([]domain.CsvImportBatch, 0, len(t.st.batches))
	for _, b := range t.st.batches {
		b.Rows = nil
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func cloneBatch(b domain.CsvImportBatch) domain.CsvImportBatch {
	b.Rows = append([]domain.CsvImportRow(nil), b.Rows...)
	return b
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
