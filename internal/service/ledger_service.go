package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/ports"
	"stockledger-backend/internal/store"
)

const minReasonLength = 5

// LedgerService owns the stock mutators that are not driven by orders.
type LedgerService struct {
	Store   store.Store
	Outlets OutletResolver
	Events  ports.EventPublisher
	Logger  *zap.Logger
}

type StockLine struct {
	VariantID string
	Qty       int
}

type StockInInput struct {
	OutletID   string
	Items      []StockLine
	Supplier   string
	Note       string
	ReceivedAt time.Time
}

type TransferInput struct {
	FromOutletID  string
	ToOutletID    string
	Items         []StockLine
	Note          string
	TransferredAt time.Time
}

type AdjustmentInput struct {
	OutletID  string
	VariantID string
	DeltaQty  int
	Reason    string
}

type OpnameLine struct {
	VariantID  string
	CountedQty int
}

type OpnameInput struct {
	OutletID string
	Items    []OpnameLine
	Note     string
}

// EnsureDefaultOutlet returns the canonical warehouse, creating it if needed.
func (s LedgerService) EnsureDefaultOutlet(ctx context.Context) (*domain.Outlet, error) {
	var out *domain.Outlet
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := s.Outlets.Resolve(ctx, tx, "")
		out = o
		return err
	})
	return out, err
}

func validateLines(items []StockLine) error {
	if len(items) == 0 {
		return domain.Invalid("items", "at least one item is required")
	}
	for i, it := range items {
		if strings.TrimSpace(it.VariantID) == "" {
			return domain.Invalid(fmt.Sprintf("items[%d].variantId", i), "is required")
		}
		if it.Qty <= 0 {
			return domain.Invalid(fmt.Sprintf("items[%d].qty", i), "must be greater than zero")
		}
	}
	return nil
}

// mergeLines sums quantities of repeated variants, keeping first-seen order.
func mergeLines(items []StockLine) []StockLine {
	idx := make(map[string]int, len(items))
	out := make([]StockLine, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.VariantID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.VariantID] = len(out)
		out = append(out, it)
	}
	return out
}

func lineIDs(items []StockLine) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.VariantID)
	}
	return ids
}

// StockIn receives goods into an outlet. It never fails on quantity.
func (s LedgerService) StockIn(ctx context.Context, actor domain.Actor, in StockInInput) (doc *domain.StockIn, err error) {
	ctx, span := startSpan(ctx, "ledger.stock_in", attribute.Int("items", len(in.Items)))
	defer func() { endSpan(span, err) }()

	if err := validateLines(in.Items); err != nil {
		return nil, err
	}
	items := mergeLines(in.Items)
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = time.Now().UTC()
	}

	var movements []domain.StockMovement
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outlet, err := s.Outlets.Resolve(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}
		if _, err := loadVariants(ctx, tx, lineIDs(items)); err != nil {
			return err
		}

		d := &domain.StockIn{
			ID:         uuid.NewString(),
			OutletID:   outlet.ID,
			Supplier:   strings.TrimSpace(in.Supplier),
			Note:       strings.TrimSpace(in.Note),
			ReceivedAt: in.ReceivedAt,
			CreatedBy:  actor.UserID,
		}
		p := posting{RefType: domain.RefStockIn, RefID: d.ID, Actor: actor}
		for _, it := range items {
			d.Items = append(d.Items, domain.StockInItem{VariantID: it.VariantID, Qty: it.Qty})
			p.Changes = append(p.Changes, change{
				Key:   domain.StockKey{OutletID: outlet.ID, VariantID: it.VariantID},
				Type:  domain.MovementIn,
				Delta: it.Qty,
				Note:  d.Note,
			})
		}
		if err := tx.InsertStockIn(ctx, d); err != nil {
			return fmt.Errorf("insert stock in: %w", err)
		}
		movements, err = post(ctx, tx, p)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordMovements(movements)
	publish(ctx, s.Events, stockChanged(domain.RefStockIn, doc.ID, movements))
	return doc, nil
}

// Transfer moves goods between two active outlets, all lines or none.
func (s LedgerService) Transfer(ctx context.Context, actor domain.Actor, in TransferInput) (doc *domain.StockTransfer, err error) {
	ctx, span := startSpan(ctx, "ledger.transfer", attribute.Int("items", len(in.Items)))
	defer func() { endSpan(span, err) }()

	if in.FromOutletID == "" || in.ToOutletID == "" {
		return nil, domain.Invalid("outletId", "fromOutletId and toOutletId are required")
	}
	if in.FromOutletID == in.ToOutletID {
		return nil, domain.Invalid("toOutletId", "must differ from fromOutletId")
	}
	if err := validateLines(in.Items); err != nil {
		return nil, err
	}
	items := mergeLines(in.Items)
	if in.TransferredAt.IsZero() {
		in.TransferredAt = time.Now().UTC()
	}

	var (
		movements []domain.StockMovement
		variants  map[string]domain.Variant
	)
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		from, err := s.Outlets.Resolve(ctx, tx, in.FromOutletID)
		if err != nil {
			return err
		}
		to, err := s.Outlets.Resolve(ctx, tx, in.ToOutletID)
		if err != nil {
			return err
		}
		variants, err = loadVariants(ctx, tx, lineIDs(items))
		if err != nil {
			return err
		}

		d := &domain.StockTransfer{
			ID:            uuid.NewString(),
			FromOutletID:  from.ID,
			ToOutletID:    to.ID,
			Note:          strings.TrimSpace(in.Note),
			TransferredAt: in.TransferredAt,
			CreatedBy:     actor.UserID,
		}
		p := posting{RefType: domain.RefStockTransfer, RefID: d.ID, Actor: actor}
		for _, it := range items {
			d.Items = append(d.Items, domain.StockTransferItem{VariantID: it.VariantID, Qty: it.Qty})
			p.Changes = append(p.Changes,
				change{
					Key:   domain.StockKey{OutletID: from.ID, VariantID: it.VariantID},
					Type:  domain.MovementTransferOut,
					Delta: -it.Qty,
					Note:  "transfer to " + to.Name,
				},
				change{
					Key:   domain.StockKey{OutletID: to.ID, VariantID: it.VariantID},
					Type:  domain.MovementTransferIn,
					Delta: it.Qty,
					Note:  "transfer from " + from.Name,
				},
			)
		}
		movements, err = post(ctx, tx, p)
		if err != nil {
			return err
		}
		if err := tx.InsertStockTransfer(ctx, d); err != nil {
			return fmt.Errorf("insert stock transfer: %w", err)
		}
		doc = d
		return nil
	})
	if err != nil {
		countShortage("transfer", err)
		return nil, err
	}

	recordMovements(movements)
	evs := append([]events.Event{stockChanged(domain.RefStockTransfer, doc.ID, movements)}, lowStockEvents(movements, variants)...)
	publish(ctx, s.Events, evs...)
	return doc, nil
}

// Adjust applies a signed correction with a mandatory reason. Admin only.
func (s LedgerService) Adjust(ctx context.Context, actor domain.Actor, in AdjustmentInput) (doc *domain.StockAdjustment, err error) {
	ctx, span := startSpan(ctx, "ledger.adjust", attribute.Int("delta", in.DeltaQty))
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.VariantID) == "" {
		return nil, domain.Invalid("variantId", "is required")
	}
	if in.DeltaQty == 0 {
		return nil, domain.ErrInvalidDelta
	}
	reason := strings.TrimSpace(in.Reason)
	if len([]rune(reason)) < minReasonLength {
		return nil, domain.Invalid("reason", "must be at least %d characters", minReasonLength)
	}

	var (
		movements []domain.StockMovement
		variants  map[string]domain.Variant
	)
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outlet, err := s.Outlets.Resolve(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}
		variants, err = loadVariants(ctx, tx, []string{in.VariantID})
		if err != nil {
			return err
		}
		d := &domain.StockAdjustment{
			ID:        uuid.NewString(),
			OutletID:  outlet.ID,
			VariantID: in.VariantID,
			DeltaQty:  in.DeltaQty,
			Reason:    reason,
			CreatedBy: actor.UserID,
		}
		movements, err = post(ctx, tx, posting{
			RefType: domain.RefAdjustment,
			RefID:   d.ID,
			Actor:   actor,
			Changes: []change{{
				Key:   domain.StockKey{OutletID: outlet.ID, VariantID: in.VariantID},
				Type:  domain.MovementAdjustment,
				Delta: in.DeltaQty,
				Note:  reason,
			}},
		})
		if err != nil {
			return err
		}
		if err := tx.InsertStockAdjustment(ctx, d); err != nil {
			return fmt.Errorf("insert stock adjustment: %w", err)
		}
		doc = d
		return nil
	})
	if err != nil {
		countShortage("adjustment", err)
		return nil, err
	}

	recordMovements(movements)
	evs := append([]events.Event{stockChanged(domain.RefAdjustment, doc.ID, movements)}, lowStockEvents(movements, variants)...)
	publish(ctx, s.Events, evs...)
	return doc, nil
}

// Opname overwrites system quantities with physical counts. Only non-zero
// differences produce ADJUSTMENT movements. Admin only.
func (s LedgerService) Opname(ctx context.Context, actor domain.Actor, in OpnameInput) (doc *domain.StockOpname, err error) {
	ctx, span := startSpan(ctx, "ledger.opname", attribute.Int("items", len(in.Items)))
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, domain.Invalid("items", "at least one item is required")
	}
	counted := make(map[string]int, len(in.Items))
	order := make([]string, 0, len(in.Items))
	for i, it := range in.Items {
		if strings.TrimSpace(it.VariantID) == "" {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].variantId", i), "is required")
		}
		if it.CountedQty < 0 {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].countedQty", i), "must not be negative")
		}
		if _, dup := counted[it.VariantID]; dup {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].variantId", i), "variant %s is counted twice", it.VariantID)
		}
		counted[it.VariantID] = it.CountedQty
		order = append(order, it.VariantID)
	}

	var (
		movements []domain.StockMovement
		variants  map[string]domain.Variant
	)
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outlet, err := s.Outlets.Resolve(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}
		variants, err = loadVariants(ctx, tx, order)
		if err != nil {
			return err
		}

		keys := make([]domain.StockKey, 0, len(order))
		for _, id := range order {
			keys = append(keys, domain.StockKey{OutletID: outlet.ID, VariantID: id})
		}
		sorted := append([]domain.StockKey(nil), keys...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
		system, err := tx.LockStock(ctx, sorted)
		if err != nil {
			return fmt.Errorf("lock stock: %w", err)
		}

		d := &domain.StockOpname{
			ID:        uuid.NewString(),
			OutletID:  outlet.ID,
			Note:      strings.TrimSpace(in.Note),
			CreatedBy: actor.UserID,
		}
		p := posting{RefType: domain.RefOpname, RefID: d.ID, Actor: actor}
		for _, k := range keys {
			c := counted[k.VariantID]
			sys := system[k]
			d.Items = append(d.Items, domain.StockOpnameItem{
				VariantID:  k.VariantID,
				SystemQty:  sys,
				CountedQty: c,
				Diff:       c - sys,
			})
			if c == sys {
				continue
			}
			set := c
			p.Changes = append(p.Changes, change{
				Key:  k,
				Type: domain.MovementAdjustment,
				Set:  &set,
				Note: "stock opname",
			})
		}
		movements, err = post(ctx, tx, p)
		if err != nil {
			return err
		}
		if err := tx.InsertStockOpname(ctx, d); err != nil {
			return fmt.Errorf("insert stock opname: %w", err)
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordMovements(movements)
	if len(movements) > 0 {
		evs := append([]events.Event{stockChanged(domain.RefOpname, doc.ID, movements)}, lowStockEvents(movements, variants)...)
		publish(ctx, s.Events, evs...)
	}
	return doc, nil
}

// VerifyLedger compares every Stock row with the signed sum of its
// movements. With repair set, drifting rows are rewritten from the movement
// log, which is authoritative. Repair is admin only.
func (s LedgerService) VerifyLedger(ctx context.Context, actor domain.Actor, outletID string, repair bool) (drifts []domain.LedgerDrift, err error) {
	ctx, span := startSpan(ctx, "ledger.verify", attribute.Bool("repair", repair))
	defer func() { endSpan(span, err) }()

	if repair {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stock, err := tx.AllStock(ctx, outletID)
		if err != nil {
			return err
		}
		sums, err := tx.MovementBalances(ctx, outletID)
		if err != nil {
			return err
		}
		drifts = findDrifts(stock, sums)
		if !repair || len(drifts) == 0 {
			return nil
		}
		keys := make([]domain.StockKey, 0, len(drifts))
		for _, d := range drifts {
			keys = append(keys, domain.StockKey{OutletID: d.OutletID, VariantID: d.VariantID})
		}
		if _, err := tx.LockStock(ctx, keys); err != nil {
			return err
		}
		for _, d := range drifts {
			if err := tx.SetStock(ctx, domain.StockKey{OutletID: d.OutletID, VariantID: d.VariantID}, d.MovementSum); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(drifts) > 0 {
		loggerOr(s.Logger).Warn("ledger drift detected",
			zap.Int("rows", len(drifts)),
			zap.Bool("repaired", repair),
			zap.String("actor", actor.UserID),
		)
	}
	return drifts, nil
}

func findDrifts(stock, sums map[domain.StockKey]int) []domain.LedgerDrift {
	keys := make(map[domain.StockKey]struct{}, len(stock)+len(sums))
	for k := range stock {
		keys[k] = struct{}{}
	}
	for k := range sums {
		keys[k] = struct{}{}
	}
	out := make([]domain.LedgerDrift, 0)
	for k := range keys {
		if stock[k] == sums[k] {
			continue
		}
		out = append(out, domain.LedgerDrift{
			OutletID:    k.OutletID,
			VariantID:   k.VariantID,
			StockQty:    stock[k],
			MovementSum: sums[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.StockKey{OutletID: out[i].OutletID, VariantID: out[i].VariantID}.
			Less(domain.StockKey{OutletID: out[j].OutletID, VariantID: out[j].VariantID})
	})
	return out
}

func (s LedgerService) ListStock(ctx context.Context, outletID string, limit int) ([]domain.Stock, error) {
	var out []domain.Stock
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListStock(ctx, outletID, listLimit(limit))
		return err
	})
	return out, err
}

func (s LedgerService) ListMovements(ctx context.Context, f domain.MovementFilter) ([]domain.StockMovement, error) {
	f.Limit = listLimit(f.Limit)
	var out []domain.StockMovement
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListMovements(ctx, f)
		return err
	})
	return out, err
}

func stockChanged(refType domain.RefType, refID string, movements []domain.StockMovement) events.Event {
	lines := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		lines = append(lines, map[string]any{
			"outletId":  m.OutletID,
			"variantId": m.VariantID,
			"type":      m.Type,
			"qty":       m.Qty,
			"qtyAfter":  m.QtyAfter,
		})
	}
	return events.New(events.KindStockChanged, refID, map[string]any{
		"refType":   refType,
		"refId":     refID,
		"movements": lines,
	})
}
