// Package events delivers best-effort notifications about committed
// inventory changes. Publishing never blocks the caller and a delivery
// failure never affects stock state.
package events

import (
	"context"
	"time"
)

// Event kinds.
const (
	KindOrderCreated     = "order.created"
	KindOrderReversed    = "order.reversed"
	KindStockLow         = "stock.low"
	KindStockChanged     = "stock.changed"
	KindWebhookProcessed = "webhook.processed"
	KindWebhookFailed    = "webhook.failed"
	KindBatchImported    = "batch.imported"
	KindBatchBlocked     = "batch.blocked"
)

// Event is the wire shape of an outbound notification.
type Event struct {
	Kind       string         `json:"kind"`
	Key        string         `json:"key"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data"`
}

// New stamps an event with the current time.
func New(kind, key string, data map[string]any) Event {
	return Event{Kind: kind, Key: key, OccurredAt: time.Now().UTC(), Data: data}
}

// Sink delivers one event to an external consumer.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
	Close() error
}
