package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/observability"
	"stockledger-backend/internal/ports"
	"stockledger-backend/internal/store"
)

const previewSampleSize = 5

// ImportInput is one uploaded file with its column mapping.
type ImportInput struct {
	Channel    domain.Channel
	OutletID   string
	FileName   string
	CsvText    string
	XlsxBase64 string
	Mapping    ColumnMapping
}

type PreviewRow struct {
	RowNumber       int              `json:"rowNumber"`
	ExternalOrderID string           `json:"externalOrderId"`
	ExternalSKU     string           `json:"externalSku"`
	Qty             int              `json:"qty"`
	VariantID       string           `json:"variantId,omitempty"`
	Status          domain.RowStatus `json:"status"`
}

// ImportPreview summarizes what a submit would do without persisting.
type ImportPreview struct {
	TotalRows      int               `json:"totalRows"`
	Orders         int               `json:"orders"`
	Lines          int               `json:"lines"`
	MissingSkus    []string          `json:"missingSkus"`
	Insufficient   []domain.Shortage `json:"insufficientStock"`
	ExistingOrders []string          `json:"existingOrders"`
	Sample         []PreviewRow      `json:"sample"`
}

// CsvImportService runs the preview, submit and finalize workflow for
// batch order imports. Finalize is batch-wide atomic: one shortage anywhere
// blocks the whole batch.
type CsvImportService struct {
	Store   store.Store
	Outlets OutletResolver
	Events  ports.EventPublisher
	Logger  *zap.Logger
}

func (in *ImportInput) normalize() ([]domain.CsvImportRow, error) {
	c, ok := domain.ParseChannel(string(in.Channel))
	if !ok {
		return nil, domain.Invalid("channel", "unknown channel %q", in.Channel)
	}
	in.Channel = c
	records, err := readRecords(*in)
	if err != nil {
		return nil, err
	}
	return parseRows(records, in.Mapping)
}

// Preview parses and resolves the file and checks stock at the target
// outlet. Nothing is written.
func (s CsvImportService) Preview(ctx context.Context, in ImportInput) (out *ImportPreview, err error) {
	ctx, span := startSpan(ctx, "csv.preview")
	defer func() { endSpan(span, err) }()

	rows, err := in.normalize()
	if err != nil {
		return nil, err
	}
	var plan *importPlan
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outletID, err := s.previewOutlet(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}
		plan, err = evaluateImport(ctx, tx, in.Channel, outletID, rows, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	out = &ImportPreview{
		TotalRows:      len(rows),
		Orders:         len(plan.groups),
		Lines:          len(rows),
		MissingSkus:    plan.unmapped,
		Insufficient:   plan.shortages,
		ExistingOrders: plan.skippedOrders(),
		Sample:         make([]PreviewRow, 0, previewSampleSize),
	}
	for i := 0; i < len(rows) && i < previewSampleSize; i++ {
		r := rows[i]
		out.Sample = append(out.Sample, PreviewRow{
			RowNumber:       r.RowNumber,
			ExternalOrderID: r.ExternalOrderID,
			ExternalSKU:     r.ExternalSKU,
			Qty:             r.Qty,
			VariantID:       r.VariantID,
			Status:          r.Status,
		})
	}
	return out, nil
}

// previewOutlet resolves the outlet without creating the default one.
func (s CsvImportService) previewOutlet(ctx context.Context, tx store.Tx, id string) (string, error) {
	if id != "" {
		o, err := s.Outlets.Resolve(ctx, tx, id)
		if err != nil {
			return "", err
		}
		return o.ID, nil
	}
	o, err := tx.FindDefaultOutlet(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// Submit always stores the batch and its rows. A batch that resolves
// completely with enough stock is finalized right away.
func (s CsvImportService) Submit(ctx context.Context, actor domain.Actor, in ImportInput) (b *domain.CsvImportBatch, err error) {
	ctx, span := startSpan(ctx, "csv.submit")
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rows, err := in.normalize()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outlet, err := s.Outlets.Resolve(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}
		plan, err := evaluateImport(ctx, tx, in.Channel, outlet.ID, rows, false)
		if err != nil {
			return err
		}
		b = &domain.CsvImportBatch{
			ID:        uuid.NewString(),
			Channel:   in.Channel,
			OutletID:  outlet.ID,
			FileName:  strings.TrimSpace(in.FileName),
			TotalRows: len(rows),
			CreatedBy: actor.UserID,
			Rows:      rows,
		}
		b.Status, b.Message = plan.verdict()
		return tx.InsertCsvBatch(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	loggerOr(s.Logger).Info("csv batch submitted",
		zap.String("batchId", b.ID),
		zap.String("channel", string(b.Channel)),
		zap.Int("rows", b.TotalRows),
		zap.String("status", string(b.Status)),
	)
	if b.Status != domain.BatchReady {
		observability.CsvBatchesTotal.WithLabelValues(string(b.Status)).Inc()
		publish(ctx, s.Events, batchEvent(b))
		return b, nil
	}
	return s.Finalize(ctx, actor, b.ID)
}

// Finalize re-runs resolve, stock check and commit for a stored batch. An
// already imported batch is returned unchanged.
func (s CsvImportService) Finalize(ctx context.Context, actor domain.Actor, batchID string) (b *domain.CsvImportBatch, err error) {
	ctx, span := startSpan(ctx, "csv.finalize", attribute.String("batch.id", batchID))
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var (
		movements []domain.StockMovement
		created   []*domain.Order
		variants  map[string]domain.Variant
		noop      bool
	)
	err = withTxDedup(ctx, s.Store, func(ctx context.Context, tx store.Tx) error {
		movements, created = nil, nil
		var err error
		b, err = tx.GetCsvBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status == domain.BatchImported {
			noop = true
			return nil
		}
		for i := range b.Rows {
			b.Rows[i].Status = domain.RowPending
			b.Rows[i].ErrorMessage = ""
			b.Rows[i].OrderID = ""
		}

		plan, err := evaluateImport(ctx, tx, b.Channel, b.OutletID, b.Rows, true)
		if err != nil {
			return err
		}
		variants = plan.variants
		b.Status, b.Message = plan.verdict()
		if b.Status != domain.BatchReady {
			return tx.UpdateCsvBatch(ctx, b)
		}

		imported := 0
		for _, g := range plan.groups {
			if g.skip != "" {
				continue
			}
			o := g.order
			mv, err := post(ctx, tx, salePosting(o, domain.RefCSVImport, actor, g.moved))
			if err != nil {
				return err
			}
			movements = append(movements, mv...)
			if g.existing == nil {
				o.CreatedBy = actor.UserID
				if err := tx.InsertOrder(ctx, o); err != nil {
					return fmt.Errorf("insert order %s: %w", o.ExternalOrderID, err)
				}
				created = append(created, o)
			}
			for _, i := range g.rows {
				b.Rows[i].Status = domain.RowImported
				b.Rows[i].OrderID = o.ID
			}
			imported++
		}
		now := time.Now().UTC()
		b.Status = domain.BatchImported
		b.ImportedAt = &now
		b.Message = fmt.Sprintf("imported %d orders, skipped %d", imported, len(plan.skippedOrders()))
		return tx.UpdateCsvBatch(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return b, nil
	}

	observability.CsvBatchesTotal.WithLabelValues(string(b.Status)).Inc()
	if b.Status == domain.BatchError {
		observability.ShortagesTotal.WithLabelValues("csv_import").Inc()
	}
	recordMovements(movements)
	loggerOr(s.Logger).Info("csv batch finalized",
		zap.String("batchId", b.ID),
		zap.String("status", string(b.Status)),
		zap.String("message", b.Message),
	)

	evs := []events.Event{batchEvent(b)}
	for _, o := range created {
		evs = append(evs, orderCreated(o))
	}
	evs = append(evs, lowStockEvents(movements, variants)...)
	publish(ctx, s.Events, evs...)
	return b, nil
}

func (s CsvImportService) Get(ctx context.Context, id string) (*domain.CsvImportBatch, error) {
	var out *domain.CsvImportBatch
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetCsvBatch(ctx, id)
		return err
	})
	return out, err
}

func (s CsvImportService) List(ctx context.Context, limit int) ([]domain.CsvImportBatch, error) {
	var out []domain.CsvImportBatch
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListCsvBatches(ctx, listLimit(limit))
		return err
	})
	return out, err
}

type importGroup struct {
	externalOrderID string
	rows            []int
	existing        *domain.Order
	order           *domain.Order
	moved           map[string]int
	skip            string
}

type importPlan struct {
	groups    []*importGroup
	unmapped  []string
	shortages []domain.Shortage
	variants  map[string]domain.Variant
}

func (p *importPlan) verdict() (domain.BatchStatus, string) {
	switch {
	case len(p.unmapped) > 0:
		return domain.BatchNeedsMapping, "unmapped SKUs: " + strings.Join(p.unmapped, ", ")
	case len(p.shortages) > 0:
		return domain.BatchError, (&domain.InsufficientStockError{Shortages: p.shortages}).Error()
	default:
		return domain.BatchReady, ""
	}
}

func (p *importPlan) skippedOrders() []string {
	out := []string{}
	for _, g := range p.groups {
		if g.skip != "" {
			out = append(out, g.externalOrderID)
		}
	}
	return out
}

// evaluateImport resolves every row, groups rows into orders and checks
// stock for the batch as a whole. Row statuses are updated in place. With
// lock set the affected Stock rows are locked for the rest of the
// transaction.
func evaluateImport(ctx context.Context, tx store.Tx, channel domain.Channel, outletID string, rows []domain.CsvImportRow, lock bool) (*importPlan, error) {
	plan := &importPlan{}

	skus := make([]string, 0, len(rows))
	for _, r := range rows {
		skus = append(skus, r.ExternalSKU)
	}
	resolved, err := resolveSkus(ctx, tx, channel, skus)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resolved.Mapped))
	for _, v := range resolved.Mapped {
		ids = append(ids, v)
	}
	plan.variants, err = tx.GetVariants(ctx, ids)
	if err != nil {
		return nil, err
	}

	missing := map[string]bool{}
	for i := range rows {
		r := &rows[i]
		variantID, ok := resolved.Mapped[r.ExternalSKU]
		if !ok {
			r.Status, r.ErrorMessage = domain.RowUnmapped, "sku is not mapped"
			missing[r.ExternalSKU] = true
			continue
		}
		if v, ok := plan.variants[variantID]; !ok || v.Lifecycle == domain.LifecycleDeleted {
			r.Status, r.ErrorMessage = domain.RowUnmapped, "mapped variant no longer exists"
			missing[r.ExternalSKU] = true
			continue
		}
		r.VariantID = variantID
		r.Status = domain.RowMapped
	}

	byOrder := map[string]*importGroup{}
	for i, r := range rows {
		g, ok := byOrder[r.ExternalOrderID]
		if !ok {
			g = &importGroup{externalOrderID: r.ExternalOrderID}
			byOrder[r.ExternalOrderID] = g
			plan.groups = append(plan.groups, g)
		}
		g.rows = append(g.rows, i)
	}
	if len(missing) > 0 {
		plan.unmapped = sortedKeys(missing)
		return plan, nil
	}

	need := map[string]int{}
	for _, g := range plan.groups {
		existing, err := tx.FindOrderByExternalID(ctx, channel, g.externalOrderID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, err
		case existing.Source != domain.SourceCSV:
			g.skip = fmt.Sprintf("order already recorded via %s", existing.Source)
		case existing.Status.Closed():
			g.skip = fmt.Sprintf("order is %s", existing.Status)
		default:
			g.existing = existing
			g.moved, err = soldQty(ctx, tx, existing.ID)
			if err != nil {
				return nil, err
			}
		}
		if g.skip != "" {
			for _, i := range g.rows {
				rows[i].Status, rows[i].ErrorMessage = domain.RowSkipped, g.skip
			}
			continue
		}

		g.order = buildImportOrder(channel, outletID, g, rows, plan.variants)
		for variantID, q := range g.order.QtyByVariant() {
			if g.moved[variantID] == 0 {
				need[variantID] += q
			}
		}
	}
	if len(need) == 0 {
		return plan, nil
	}

	keys := make([]domain.StockKey, 0, len(need))
	for _, id := range sortedKeys(need) {
		keys = append(keys, domain.StockKey{OutletID: outletID, VariantID: id})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	var have map[domain.StockKey]int
	if lock {
		have, err = tx.LockStock(ctx, keys)
	} else {
		have, err = tx.ReadStock(ctx, keys)
	}
	if err != nil {
		return nil, err
	}

	short := map[string]bool{}
	for _, k := range keys {
		if need[k.VariantID] > have[k] {
			short[k.VariantID] = true
			plan.shortages = append(plan.shortages, domain.Shortage{
				OutletID:  outletID,
				VariantID: k.VariantID,
				Need:      need[k.VariantID],
				Have:      have[k],
			})
		}
	}
	for i := range rows {
		if rows[i].Status == domain.RowMapped && short[rows[i].VariantID] {
			rows[i].Status = domain.RowShort
			rows[i].ErrorMessage = fmt.Sprintf("need %d across batch", need[rows[i].VariantID])
		}
	}
	return plan, nil
}

func buildImportOrder(channel domain.Channel, outletID string, g *importGroup, rows []domain.CsvImportRow, variants map[string]domain.Variant) *domain.Order {
	o := g.existing
	if o == nil {
		o = &domain.Order{
			ID:              uuid.NewString(),
			Channel:         channel,
			Source:          domain.SourceCSV,
			ExternalOrderID: g.externalOrderID,
			OutletID:        outletID,
			Status:          domain.OrderPaid,
			OrderedAt:       time.Now().UTC(),
		}
		for _, i := range g.rows {
			r := rows[i]
			if r.OrderDate != nil {
				o.OrderedAt = *r.OrderDate
				break
			}
		}
		for _, i := range g.rows {
			r := rows[i]
			price := variants[r.VariantID].Price
			if r.Price != nil {
				price = *r.Price
			}
			o.Items = append(o.Items, domain.OrderItem{
				ID:          uuid.NewString(),
				VariantID:   r.VariantID,
				ExternalSKU: r.ExternalSKU,
				Qty:         r.Qty,
				Price:       price,
			})
		}
		o.RecalculateTotal()
	}
	return o
}

func batchEvent(b *domain.CsvImportBatch) events.Event {
	kind := events.KindBatchImported
	if b.Status != domain.BatchImported {
		kind = events.KindBatchBlocked
	}
	return events.New(kind, b.ID, map[string]any{
		"batchId":   b.ID,
		"channel":   b.Channel,
		"status":    b.Status,
		"message":   b.Message,
		"totalRows": b.TotalRows,
	})
}
