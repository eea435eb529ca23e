package ports

import (
	"context"

	"stockledger-backend/internal/events"
)

// HealthChecker is used to probe dependencies.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EventPublisher accepts notifications about committed changes.
type EventPublisher interface {
	Publish(ctx context.Context, evs ...events.Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...events.Event) {}
