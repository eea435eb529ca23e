package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"stockledger-backend/internal/observability"
)

const deliverTimeout = 5 * time.Second

// Dispatcher buffers events in a channel and hands them to a Sink from a
// single goroutine.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink Sink, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues events without blocking. Events that do not fit in the
// buffer are dropped and counted.
func (d *Dispatcher) Publish(_ context.Context, evs ...Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, e := range evs {
		select {
		case d.queue <- e:
		default:
			observability.OutboxDroppedTotal.Inc()
			d.logger.Warn("outbox full, dropping event", zap.String("kind", e.Kind), zap.String("key", e.Key))
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := d.sink.Deliver(ctx, e)
		cancel()
		if err != nil {
			observability.OutboxDeliveredTotal.WithLabelValues("error").Inc()
			d.logger.Error("deliver event", zap.String("kind", e.Kind), zap.String("key", e.Key), zap.Error(err))
			continue
		}
		observability.OutboxDeliveredTotal.WithLabelValues("ok").Inc()
	}
}

// Close stops accepting events, drains the queue and closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.sink.Close()
}
