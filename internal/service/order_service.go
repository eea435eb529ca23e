package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/ports"
	"stockledger-backend/internal/store"
)

// OrderService creates orders from the POS and manual entry, and reverses
// them on cancellation or return.
type OrderService struct {
	Store   store.Store
	Outlets OutletResolver
	Events  ports.EventPublisher
	Logger  *zap.Logger
}

type OrderLine struct {
	VariantID string
	Qty       int
	Price     *decimal.Decimal
}

type CreateOrderInput struct {
	Channel         domain.Channel
	OutletID        string
	ExternalOrderID string
	Status          domain.OrderStatus
	Items           []OrderLine
	Note            string
	OrderedAt       time.Time
}

// CreateOrderResult tells whether the order was created by this call or
// already existed under the same (channel, externalOrderId).
type CreateOrderResult struct {
	Order   *domain.Order
	Created bool
}

func (in *CreateOrderInput) normalize() error {
	if in.Channel == "" {
		in.Channel = domain.ChannelOfflineStore
	}
	c, ok := domain.ParseChannel(string(in.Channel))
	if !ok {
		return domain.Invalid("channel", "unknown channel %q", in.Channel)
	}
	in.Channel = c
	switch in.Status {
	case "":
		in.Status = domain.OrderPaid
	case domain.OrderNew, domain.OrderPaid:
	default:
		return domain.Invalid("status", "new orders must be NEW or PAID")
	}
	in.ExternalOrderID = strings.TrimSpace(in.ExternalOrderID)
	if len(in.Items) == 0 {
		return domain.Invalid("items", "at least one item is required")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.VariantID) == "" {
			return domain.Invalid(fmt.Sprintf("items[%d].variantId", i), "is required")
		}
		if it.Qty <= 0 {
			return domain.Invalid(fmt.Sprintf("items[%d].qty", i), "must be greater than zero")
		}
		if it.Price != nil && it.Price.IsNegative() {
			return domain.Invalid(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
	}
	if in.OrderedAt.IsZero() {
		in.OrderedAt = time.Now().UTC()
	}
	return nil
}

func (in CreateOrderInput) source() domain.OrderSource {
	if in.Channel == domain.ChannelOfflineStore {
		return domain.SourcePOS
	}
	return domain.SourceManual
}

// Create validates every line, rejects inactive products and decrements
// stock for the whole order in one transaction.
func (s OrderService) Create(ctx context.Context, actor domain.Actor, in CreateOrderInput) (res CreateOrderResult, err error) {
	ctx, span := startSpan(ctx, "order.create", attribute.Int("items", len(in.Items)))
	defer func() { endSpan(span, err) }()

	if err := in.normalize(); err != nil {
		return res, err
	}

	var (
		movements []domain.StockMovement
		variants  map[string]domain.Variant
	)
	err = withTxDedup(ctx, s.Store, func(ctx context.Context, tx store.Tx) error {
		if in.ExternalOrderID != "" {
			existing, err := tx.FindOrderByExternalID(ctx, in.Channel, in.ExternalOrderID)
			if err == nil {
				res = CreateOrderResult{Order: existing}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		outlet, err := s.Outlets.Resolve(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(in.Items))
		for _, it := range in.Items {
			ids = append(ids, it.VariantID)
		}
		variants, err = loadVariants(ctx, tx, ids)
		if err != nil {
			return err
		}

		o := &domain.Order{
			ID:              uuid.NewString(),
			Channel:         in.Channel,
			Source:          in.source(),
			ExternalOrderID: in.ExternalOrderID,
			OutletID:        outlet.ID,
			Status:          in.Status,
			Note:            strings.TrimSpace(in.Note),
			OrderedAt:       in.OrderedAt,
			CreatedBy:       actor.UserID,
		}
		for _, it := range in.Items {
			v := variants[it.VariantID]
			if !v.Sellable() {
				return &domain.ProductInactiveError{VariantID: v.ID}
			}
			price := v.Price
			if it.Price != nil {
				price = *it.Price
			}
			o.Items = append(o.Items, domain.OrderItem{
				ID:        uuid.NewString(),
				VariantID: v.ID,
				Qty:       it.Qty,
				Price:     price,
			})
		}
		o.RecalculateTotal()

		movements, err = post(ctx, tx, salePosting(o, domain.RefOrder, actor, nil))
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		res = CreateOrderResult{Order: o, Created: true}
		return nil
	})
	if err != nil {
		countShortage("order", err)
		return CreateOrderResult{}, err
	}
	if !res.Created {
		return res, nil
	}

	recordMovements(movements)
	evs := append([]events.Event{orderCreated(res.Order)}, lowStockEvents(movements, variants)...)
	publish(ctx, s.Events, evs...)
	return res, nil
}

// salePosting builds OUT changes for every variant of o, skipping variants
// that already have a movement under the order.
func salePosting(o *domain.Order, refType domain.RefType, actor domain.Actor, moved map[string]int) posting {
	p := posting{RefType: refType, RefID: o.ID, Actor: actor}
	qty := o.QtyByVariant()
	for _, id := range sortedKeys(qty) {
		if moved[id] > 0 {
			continue
		}
		p.Changes = append(p.Changes, change{
			Key:   domain.StockKey{OutletID: o.OutletID, VariantID: id},
			Type:  domain.MovementOut,
			Delta: -qty[id],
			Note:  orderNote(o),
		})
	}
	return p
}

func orderNote(o *domain.Order) string {
	if o.ExternalOrderID != "" {
		return fmt.Sprintf("%s order %s", o.Channel, o.ExternalOrderID)
	}
	return fmt.Sprintf("%s order", o.Channel)
}

func (s OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	var out *domain.Order
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetOrder(ctx, id)
		return err
	})
	return out, err
}

func (s OrderService) List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	f.Limit = listLimit(f.Limit)
	var out []domain.Order
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListOrders(ctx, f)
		return err
	})
	return out, err
}

func (s OrderService) Cancel(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	return s.close(ctx, actor, id, domain.OrderCancelled)
}

func (s OrderService) Return(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	return s.close(ctx, actor, id, domain.OrderReturned)
}

func (s OrderService) close(ctx context.Context, actor domain.Actor, id string, status domain.OrderStatus) (o *domain.Order, err error) {
	ctx, span := startSpan(ctx, "order.close", attribute.String("status", string(status)))
	defer func() { endSpan(span, err) }()

	var movements []domain.StockMovement
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status.Closed() {
			return fmt.Errorf("order is already %s: %w", o.Status, domain.ErrInvalidTransition)
		}
		movements, err = reverseOrder(ctx, tx, o, status, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	recordMovements(movements)
	publish(ctx, s.Events, orderReversed(o, movements))
	return o, nil
}

// soldQty returns units already taken out of stock for the order, whether
// it was posted directly or through a CSV import.
func soldQty(ctx context.Context, tx store.Tx, orderID string) (map[string]int, error) {
	sold, err := tx.MovedQty(ctx, domain.RefOrder, orderID)
	if err != nil {
		return nil, err
	}
	imported, err := tx.MovedQty(ctx, domain.RefCSVImport, orderID)
	if err != nil {
		return nil, err
	}
	for id, q := range imported {
		sold[id] += q
	}
	return sold, nil
}

// reverseOrder returns to stock whatever was sold under the order and not
// yet reversed, then stores the new status.
func reverseOrder(ctx context.Context, tx store.Tx, o *domain.Order, status domain.OrderStatus, actor domain.Actor) ([]domain.StockMovement, error) {
	sold, err := soldQty(ctx, tx, o.ID)
	if err != nil {
		return nil, err
	}
	reversed, err := tx.MovedQty(ctx, domain.RefOrderReversal, o.ID)
	if err != nil {
		return nil, err
	}
	p := posting{RefType: domain.RefOrderReversal, RefID: o.ID, Actor: actor}
	for _, id := range sortedKeys(sold) {
		back := sold[id] - reversed[id]
		if back <= 0 {
			continue
		}
		p.Changes = append(p.Changes, change{
			Key:   domain.StockKey{OutletID: o.OutletID, VariantID: id},
			Type:  domain.MovementIn,
			Delta: back,
			Note:  strings.ToLower(string(status)) + " " + orderNote(o),
		})
	}
	movements, err := post(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	o.Status = status
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	return movements, nil
}

func orderCreated(o *domain.Order) events.Event {
	return events.New(events.KindOrderCreated, o.ID, map[string]any{
		"orderId":         o.ID,
		"channel":         o.Channel,
		"source":          o.Source,
		"externalOrderId": o.ExternalOrderID,
		"outletId":        o.OutletID,
		"totalAmount":     o.TotalAmount.StringFixed(2),
		"items":           len(o.Items),
	})
}

func orderReversed(o *domain.Order, movements []domain.StockMovement) events.Event {
	units := 0
	for _, m := range movements {
		units += m.Qty
	}
	return events.New(events.KindOrderReversed, o.ID, map[string]any{
		"orderId":       o.ID,
		"status":        o.Status,
		"channel":       o.Channel,
		"unitsReturned": units,
	})
}
