package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	got    []Event
	block  chan struct{}
	fail   bool
	closed bool
}

func (s *recordingSink) Deliver(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	if s.fail {
		return errors.New("broker down")
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.got))
	for _, e := range s.got {
		out = append(out, e.Kind)
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, nil)

	d.Publish(context.Background(), New(KindOrderCreated, "o1", nil), New(KindStockLow, "v1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, []string{KindOrderCreated, KindStockLow}, sink.kinds())
	assert.True(t, sink.closed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 1, nil)

	for i := 0; i < 5; i++ {
		d.Publish(context.Background(), New(KindStockChanged, "k", nil))
	}
	close(sink.block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.LessOrEqual(t, len(sink.kinds()), 2)
	assert.NotEmpty(t, sink.kinds())
}

func TestDispatcherSurvivesSinkErrors(t *testing.T) {
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, 4, nil)
	d.Publish(context.Background(), New(KindWebhookFailed, "e1", nil), New(KindWebhookFailed, "e2", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Len(t, sink.kinds(), 2)

	// Publishing after close is a no-op.
	d.Publish(context.Background(), New(KindWebhookFailed, "e3", nil))
}
