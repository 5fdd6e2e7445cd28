package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/big-kim/castle-sub001/internal/engine"
)

type fakeConfirmer struct {
	mu       sync.Mutex
	calls    map[uuid.UUID]int
	failed   map[uuid.UUID]string
	failures int
	done     chan uuid.UUID
}

func newFakeConfirmer(failures int) *fakeConfirmer {
	return &fakeConfirmer{
		calls:    make(map[uuid.UUID]int),
		failed:   make(map[uuid.UUID]string),
		failures: failures,
		done:     make(chan uuid.UUID, 16),
	}
}

func (f *fakeConfirmer) ConfirmTrade(ctx context.Context, tradeID uuid.UUID) (*engine.Trade, error) {
	f.mu.Lock()
	f.calls[tradeID]++
	attempt := f.calls[tradeID]
	f.mu.Unlock()

	if attempt <= f.failures {
		return nil, errors.New("transient")
	}
	f.done <- tradeID
	return &engine.Trade{ID: tradeID, Status: engine.TradeStatusCompleted}, nil
}

func (f *fakeConfirmer) FailTrade(_ context.Context, tradeID uuid.UUID, reason string) (*engine.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[tradeID] = reason
	return &engine.Trade{ID: tradeID, Status: engine.TradeStatusFailed, FailureReason: reason}, nil
}

func (f *fakeConfirmer) attempts(tradeID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tradeID]
}

func (f *fakeConfirmer) failureReason(tradeID uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[tradeID]
}

func TestConfirmerProcessesQueue(t *testing.T) {
	fake := newFakeConfirmer(0)
	c := NewConfirmer(fake, nil, Options{QueueSize: 8, Retries: 3, Backoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tradeID := uuid.New()
	c.Enqueue(tradeID)

	select {
	case got := <-fake.done:
		if got != tradeID {
			t.Fatalf("confirmed wrong trade: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("trade was not confirmed")
	}
}

func TestConfirmerRetriesTransientFailures(t *testing.T) {
	fake := newFakeConfirmer(2)
	c := NewConfirmer(fake, nil, Options{QueueSize: 8, Retries: 5, Backoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tradeID := uuid.New()
	c.Enqueue(tradeID)

	select {
	case <-fake.done:
	case <-time.After(time.Second):
		t.Fatalf("trade was not confirmed after retries")
	}
	if got := fake.attempts(tradeID); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestConfirmerGivesUpAfterRetries(t *testing.T) {
	fake := newFakeConfirmer(10)
	c := NewConfirmer(fake, nil, Options{QueueSize: 8, Retries: 2, Backoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tradeID := uuid.New()
	c.confirm(ctx, tradeID)

	if got := fake.attempts(tradeID); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if got := fake.failureReason(tradeID); got != "confirmation retries exhausted" {
		t.Fatalf("expected trade marked failed, got %q", got)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	fake := newFakeConfirmer(0)
	c := NewConfirmer(fake, nil, Options{QueueSize: 1, Retries: 1, Backoff: time.Millisecond})

	// No Run loop draining; the second enqueue must not block.
	c.Enqueue(uuid.New())
	done := make(chan struct{})
	go func() {
		c.Enqueue(uuid.New())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on full queue")
	}
	if len(c.queue) != 1 {
		t.Fatalf("expected one queued trade, got %d", len(c.queue))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := newFakeConfirmer(0)
	c := NewConfirmer(fake, nil, Options{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop on cancel")
	}
}
