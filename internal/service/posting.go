package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/observability"
	"stockledger-backend/internal/store"
)

// change is one requested effect on a Stock row. Delta is signed; when Set
// is non-nil the row is overwritten with *Set and Delta is ignored.
type change struct {
	Key   domain.StockKey
	Type  domain.MovementType
	Delta int
	Set   *int
	Note  string
}

type posting struct {
	RefType domain.RefType
	RefID   string
	Actor   domain.Actor
	Changes []change
}

// post applies every change of p inside tx. Rows are locked in key order,
// every resulting quantity is validated before the first write, and each
// non-zero change appends exactly one movement.
func post(ctx context.Context, tx store.Tx, p posting) ([]domain.StockMovement, error) {
	changes := mergeChanges(p.Changes)
	if len(changes) == 0 {
		return nil, nil
	}

	keys := make([]domain.StockKey, 0, len(changes))
	seen := make(map[domain.StockKey]bool, len(changes))
	for _, c := range changes {
		if !seen[c.Key] {
			seen[c.Key] = true
			keys = append(keys, c.Key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	current, err := tx.LockStock(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}

	running := make(map[domain.StockKey]int, len(current))
	for k, q := range current {
		running[k] = q
	}
	var shortages []domain.Shortage
	for _, c := range changes {
		have := running[c.Key]
		next := have + c.Delta
		if c.Set != nil {
			next = *c.Set
		}
		if next < 0 {
			shortages = append(shortages, domain.Shortage{
				OutletID:  c.Key.OutletID,
				VariantID: c.Key.VariantID,
				Need:      -c.Delta,
				Have:      have,
			})
		}
		running[c.Key] = next
	}
	if len(shortages) > 0 {
		return nil, &domain.InsufficientStockError{Shortages: shortages}
	}

	for k, q := range current {
		running[k] = q
	}
	movements := make([]domain.StockMovement, 0, len(changes))
	for _, c := range changes {
		before := running[c.Key]
		after := before + c.Delta
		if c.Set != nil {
			after = *c.Set
		}
		if after == before {
			continue
		}
		running[c.Key] = after
		if err := tx.SetStock(ctx, c.Key, after); err != nil {
			return nil, fmt.Errorf("set stock: %w", err)
		}
		m := domain.StockMovement{
			Type:      c.Type,
			OutletID:  c.Key.OutletID,
			VariantID: c.Key.VariantID,
			Qty:       abs(after - before),
			QtyBefore: before,
			QtyAfter:  after,
			Note:      c.Note,
			RefType:   p.RefType,
			RefID:     p.RefID,
			ActorID:   p.Actor.UserID,
		}
		if err := tx.InsertMovement(ctx, &m); err != nil {
			return nil, fmt.Errorf("insert movement %s/%s: %w", p.RefType, c.Key.VariantID, err)
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// mergeChanges folds changes addressing the same row with the same type so
// each (row, type) produces at most one movement.
func mergeChanges(in []change) []change {
	type mergeKey struct {
		key domain.StockKey
		typ domain.MovementType
	}
	idx := make(map[mergeKey]int, len(in))
	out := make([]change, 0, len(in))
	for _, c := range in {
		k := mergeKey{c.Key, c.Type}
		if i, ok := idx[k]; ok && c.Set == nil && out[i].Set == nil {
			out[i].Delta += c.Delta
			continue
		}
		idx[k] = len(out)
		out = append(out, c)
	}
	return out
}

// recordMovements updates counters once the transaction has committed.
func recordMovements(movements []domain.StockMovement) {
	for _, m := range movements {
		observability.MovementsTotal.WithLabelValues(string(m.Type), string(m.RefType)).Inc()
		observability.MovementUnits.WithLabelValues(string(m.Type)).Add(float64(m.Qty))
	}
}

// lowStockEvents reports decremented rows that ended at or below the
// variant's minimum quantity.
func lowStockEvents(movements []domain.StockMovement, variants map[string]domain.Variant) []events.Event {
	var out []events.Event
	for _, m := range movements {
		if m.QtyAfter >= m.QtyBefore {
			continue
		}
		v, ok := variants[m.VariantID]
		if !ok || m.QtyAfter > v.MinQty {
			continue
		}
		out = append(out, events.New(events.KindStockLow, m.OutletID+":"+m.VariantID, map[string]any{
			"outletId":  m.OutletID,
			"variantId": m.VariantID,
			"sku":       v.SKU,
			"qty":       m.QtyAfter,
			"minQty":    v.MinQty,
		}))
	}
	return out
}

func countShortage(operation string, err error) {
	var short *domain.InsufficientStockError
	if errors.As(err, &short) {
		observability.ShortagesTotal.WithLabelValues(operation).Inc()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
