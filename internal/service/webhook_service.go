package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
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

// WebhookService ingests marketplace order events exactly once per payload
// and keeps failed events retryable from their stored payload.
type WebhookService struct {
	Store   store.Store
	Outlets OutletResolver
	Events  ports.EventPublisher
	Logger  *zap.Logger
}

type WebhookResult struct {
	Event     *domain.WebhookEvent
	Duplicate bool
	OrderID   string
	Unmapped  []string
	Shortages []domain.Shortage
}

type RetrySummary struct {
	Attempted int                          `json:"attempted"`
	Failed    int                          `json:"failed"`
	ByStatus  map[domain.WebhookStatus]int `json:"byStatus"`
}

// IdempotencyKey derives the dedup key from the channel and the exact bytes.
func IdempotencyKey(channel domain.Channel, body []byte) string {
	h := sha256.New()
	h.Write([]byte(channel))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Receive stores the raw event as RECEIVED and processes it. A byte-identical
// redelivery returns the stored event untouched.
func (s WebhookService) Receive(ctx context.Context, channel domain.Channel, body []byte) (res WebhookResult, err error) {
	ctx, span := startSpan(ctx, "webhook.receive", attribute.String("channel", string(channel)))
	defer func() { endSpan(span, err) }()

	if !channel.External() {
		return res, domain.Invalid("channel", "webhooks are not accepted for %s", channel)
	}

	ev := &domain.WebhookEvent{
		ID:             uuid.NewString(),
		Channel:        channel,
		IdempotencyKey: IdempotencyKey(channel, body),
		Payload:        body,
		Status:         domain.WebhookReceived,
		ReceivedAt:     time.Now().UTC(),
	}
	if doc, err := decodePayload(body); err == nil {
		ev.ExternalOrderID = ExtractorFor(channel).Extract(doc).ExternalOrderID
	}

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertWebhookEvent(ctx, ev)
	})
	if errors.Is(err, store.ErrDuplicate) {
		var existing *domain.WebhookEvent
		err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			existing, err = tx.FindWebhookEventByKey(ctx, ev.IdempotencyKey)
			return err
		})
		if err != nil {
			return res, err
		}
		observability.WebhookDuplicatesTotal.WithLabelValues(string(channel)).Inc()
		loggerOr(s.Logger).Info("duplicate webhook delivery",
			zap.String("eventId", existing.ID),
			zap.String("channel", string(channel)),
			zap.String("status", string(existing.Status)),
		)
		return WebhookResult{Event: existing, Duplicate: true}, nil
	}
	if err != nil {
		return res, fmt.Errorf("store webhook event: %w", err)
	}

	return s.process(ctx, ev.ID)
}

// Retry re-runs processing against the stored payload. Terminal events are
// returned unchanged.
func (s WebhookService) Retry(ctx context.Context, actor domain.Actor, id string) (WebhookResult, error) {
	if err := requireAdmin(actor); err != nil {
		return WebhookResult{}, err
	}
	return s.process(ctx, id)
}

// RetryPending retries every retryable event of a channel, oldest first.
func (s WebhookService) RetryPending(ctx context.Context, actor domain.Actor, channel domain.Channel, limit int) (RetrySummary, error) {
	summary := RetrySummary{ByStatus: map[domain.WebhookStatus]int{}}
	if err := requireAdmin(actor); err != nil {
		return summary, err
	}
	pending, err := s.List(ctx, domain.WebhookEventFilter{
		Channel:  channel,
		Statuses: []domain.WebhookStatus{domain.WebhookReceived, domain.WebhookUnmapped, domain.WebhookError},
		Limit:    limit,
	})
	if err != nil {
		return summary, err
	}
	for _, ev := range pending {
		summary.Attempted++
		res, err := s.process(ctx, ev.ID)
		if err != nil {
			summary.Failed++
			loggerOr(s.Logger).Error("retry webhook event", zap.String("eventId", ev.ID), zap.Error(err))
			continue
		}
		summary.ByStatus[res.Event.Status]++
	}
	return summary, nil
}

func (s WebhookService) List(ctx context.Context, f domain.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	f.Limit = listLimit(f.Limit)
	var out []domain.WebhookEvent
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListWebhookEvents(ctx, f)
		return err
	})
	return out, err
}

func (s WebhookService) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var out *domain.WebhookEvent
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetWebhookEvent(ctx, id)
		return err
	})
	return out, err
}

type webhookOutcome struct {
	status          domain.WebhookStatus
	message         string
	externalOrderID string
	order           *domain.Order
	created         bool
	reversed        bool
	movements       []domain.StockMovement
	variants        map[string]domain.Variant
	unmapped        []string
	shortages       []domain.Shortage
}

// process runs the pipeline for one stored event inside one transaction.
// Infrastructure errors roll everything back and leave the status as it was.
func (s WebhookService) process(ctx context.Context, id string) (res WebhookResult, err error) {
	ctx, span := startSpan(ctx, "webhook.process", attribute.String("event.id", id))
	defer func() { endSpan(span, err) }()

	var (
		ev      *domain.WebhookEvent
		out     webhookOutcome
		skipped bool
	)
	err = withTxDedup(ctx, s.Store, func(ctx context.Context, tx store.Tx) error {
		var err error
		ev, err = tx.GetWebhookEvent(ctx, id)
		if err != nil {
			return err
		}
		if ev.Status.Terminal() {
			skipped = true
			return nil
		}
		out, err = s.apply(ctx, tx, ev)
		if err != nil {
			return err
		}
		ev.Status = out.status
		ev.ErrorMessage = out.message
		ev.Attempts++
		if out.externalOrderID != "" {
			ev.ExternalOrderID = out.externalOrderID
		}
		if ev.Status.Terminal() {
			now := time.Now().UTC()
			ev.ProcessedAt = &now
		}
		return tx.UpdateWebhookEvent(ctx, ev)
	})
	if err != nil {
		loggerOr(s.Logger).Error("process webhook event", zap.String("eventId", id), zap.Error(err))
		return res, err
	}

	res = WebhookResult{Event: ev}
	if skipped {
		return res, nil
	}
	res.Unmapped = out.unmapped
	res.Shortages = out.shortages
	if out.order != nil {
		res.OrderID = out.order.ID
	}
	s.afterCommit(ctx, ev, out)
	return res, nil
}

func (s WebhookService) afterCommit(ctx context.Context, ev *domain.WebhookEvent, out webhookOutcome) {
	observability.WebhookEventsTotal.WithLabelValues(string(ev.Channel), string(ev.Status)).Inc()
	recordMovements(out.movements)
	if len(out.shortages) > 0 {
		observability.ShortagesTotal.WithLabelValues("webhook").Inc()
	}

	fields := []zap.Field{
		zap.String("eventId", ev.ID),
		zap.String("channel", string(ev.Channel)),
		zap.String("externalOrderId", ev.ExternalOrderID),
		zap.String("status", string(ev.Status)),
		zap.Int("attempts", ev.Attempts),
	}
	if ev.ErrorMessage != "" {
		fields = append(fields, zap.String("reason", ev.ErrorMessage))
	}
	loggerOr(s.Logger).Info("webhook event processed", fields...)

	data := map[string]any{
		"eventId":         ev.ID,
		"channel":         ev.Channel,
		"externalOrderId": ev.ExternalOrderID,
		"status":          ev.Status,
		"message":         ev.ErrorMessage,
	}
	kind := events.KindWebhookProcessed
	if ev.Status == domain.WebhookError || ev.Status == domain.WebhookUnmapped {
		kind = events.KindWebhookFailed
	}
	evs := []events.Event{events.New(kind, ev.ID, data)}
	if out.created && out.order != nil && !out.order.Status.Closed() {
		evs = append(evs, orderCreated(out.order))
	}
	if out.reversed {
		evs = append(evs, orderReversed(out.order, out.movements))
	}
	evs = append(evs, lowStockEvents(out.movements, out.variants)...)
	publish(ctx, s.Events, evs...)
}

// apply decides the event's next status and performs its stock effects.
// Business failures are returned as an outcome; only infrastructure
// failures are returned as errors.
func (s WebhookService) apply(ctx context.Context, tx store.Tx, ev *domain.WebhookEvent) (webhookOutcome, error) {
	doc, err := decodePayload(ev.Payload)
	if err != nil {
		return webhookOutcome{status: domain.WebhookIgnored, message: "invalid payload: " + err.Error()}, nil
	}
	x := ExtractorFor(ev.Channel).Extract(doc)
	out := webhookOutcome{externalOrderID: x.ExternalOrderID}
	if x.ExternalOrderID == "" {
		out.status, out.message = domain.WebhookIgnored, "payload has no external order id"
		return out, nil
	}
	if len(x.Items) == 0 {
		out.status, out.message = domain.WebhookIgnored, "payload has no line items"
		return out, nil
	}

	skus := make([]string, 0, len(x.Items))
	for _, it := range x.Items {
		skus = append(skus, it.SKU)
	}
	resolved, err := resolveSkus(ctx, tx, ev.Channel, skus)
	if err != nil {
		return out, err
	}
	if err := resolved.Err(ev.Channel); err != nil {
		out.status, out.message, out.unmapped = domain.WebhookUnmapped, err.Error(), resolved.Unmapped
		return out, nil
	}

	ids := make([]string, 0, len(resolved.Mapped))
	seen := map[string]bool{}
	for _, v := range resolved.Mapped {
		if !seen[v] {
			seen[v] = true
			ids = append(ids, v)
		}
	}
	variants, err := tx.GetVariants(ctx, ids)
	if err != nil {
		return out, err
	}
	out.variants = variants
	items := make([]domain.OrderItem, 0, len(x.Items))
	for _, it := range x.Items {
		v, ok := variants[resolved.Mapped[it.SKU]]
		if !ok || v.Lifecycle == domain.LifecycleDeleted {
			out.status = domain.WebhookError
			out.message = fmt.Sprintf("sku %s maps to missing variant %s", it.SKU, resolved.Mapped[it.SKU])
			return out, nil
		}
		price := v.Price
		if it.Price != nil {
			price = *it.Price
		}
		items = append(items, domain.OrderItem{
			ID:          uuid.NewString(),
			VariantID:   v.ID,
			ExternalSKU: it.SKU,
			Qty:         it.Qty,
			Price:       price,
		})
	}

	existing, err := tx.FindOrderByExternalID(ctx, ev.Channel, x.ExternalOrderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return out, err
	}

	action := ClassifyStatus(x.Statuses...)
	if action == ActionSale {
		return s.applySale(ctx, tx, ev.Channel, out, existing, x, items)
	}
	return s.applyReversal(ctx, tx, ev.Channel, out, existing, x, items, action)
}

func (s WebhookService) applySale(ctx context.Context, tx store.Tx, channel domain.Channel, out webhookOutcome, existing *domain.Order, x ExtractedOrder, items []domain.OrderItem) (webhookOutcome, error) {
	if existing != nil && existing.Status.Closed() {
		out.status, out.order = domain.WebhookProcessed, existing
		return out, nil
	}

	o := existing
	var moved map[string]int
	if o == nil {
		outlet, err := s.Outlets.Resolve(ctx, tx, "")
		if err != nil {
			return out, err
		}
		o = newExternalOrder(channel, x, outlet.ID)
		o.Status = domain.OrderPaid
		if unpaid(x.Statuses...) {
			o.Status = domain.OrderNew
		}
	} else {
		var err error
		moved, err = soldQty(ctx, tx, o.ID)
		if err != nil {
			return out, err
		}
		if o.Status == domain.OrderNew && !unpaid(x.Statuses...) {
			o.Status = domain.OrderPaid
		}
	}
	o.Items = items
	o.RecalculateTotal()

	movements, err := post(ctx, tx, salePosting(o, domain.RefOrder, domain.SystemActor, moved))
	if err != nil {
		var short *domain.InsufficientStockError
		if errors.As(err, &short) {
			out.status, out.message, out.shortages = domain.WebhookError, short.Error(), short.Shortages
			return out, nil
		}
		return out, err
	}

	if existing == nil {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return out, fmt.Errorf("insert order: %w", err)
		}
		out.created = true
	} else if err := tx.UpdateOrder(ctx, o); err != nil {
		return out, fmt.Errorf("update order: %w", err)
	}
	out.status, out.order, out.movements = domain.WebhookProcessed, o, movements
	return out, nil
}

func (s WebhookService) applyReversal(ctx context.Context, tx store.Tx, channel domain.Channel, out webhookOutcome, existing *domain.Order, x ExtractedOrder, items []domain.OrderItem, action Action) (webhookOutcome, error) {
	status := domain.OrderCancelled
	if action == ActionReturn {
		status = domain.OrderReturned
	}
	out.status = domain.WebhookProcessed

	switch {
	case existing == nil:
		outlet, err := s.Outlets.Resolve(ctx, tx, "")
		if err != nil {
			return out, err
		}
		o := newExternalOrder(channel, x, outlet.ID)
		o.Status = status
		o.Items = items
		o.RecalculateTotal()
		if err := tx.InsertOrder(ctx, o); err != nil {
			return out, fmt.Errorf("insert order: %w", err)
		}
		out.order, out.created = o, true
	case existing.Status.Closed():
		out.order = existing
	default:
		movements, err := reverseOrder(ctx, tx, existing, status, domain.SystemActor)
		if err != nil {
			return out, err
		}
		out.order, out.movements, out.reversed = existing, movements, true
	}
	return out, nil
}

func newExternalOrder(channel domain.Channel, x ExtractedOrder, outletID string) *domain.Order {
	orderedAt := time.Now().UTC()
	if x.OrderedAt != nil {
		orderedAt = *x.OrderedAt
	}
	return &domain.Order{
		ID:              uuid.NewString(),
		Channel:         channel,
		Source:          domain.SourceWebhook,
		ExternalOrderID: x.ExternalOrderID,
		OutletID:        outletID,
		OrderedAt:       orderedAt,
		CreatedBy:       domain.SystemActor.UserID,
	}
}
