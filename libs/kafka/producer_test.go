package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"log/slog"
)

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	key   string
	value any
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, nil
}

func (s *stubPublisher) Close() error { return nil }

func TestDLQPublisherParksFailedEvents(t *testing.T) {
	primary := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "castled.dlq", slog.Default())

	_, _, err := publisher.PublishJSON(context.Background(), "trades.executed", "BTC-USD", map[string]string{"trade_id": "1"})
	if err == nil {
		t.Fatalf("expected publish error to propagate")
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected one dlq publish, got %d", len(dlq.calls))
	}
	if dlq.calls[0].topic != "castled.dlq" {
		t.Fatalf("expected dlq topic, got %s", dlq.calls[0].topic)
	}
	payload, ok := dlq.calls[0].value.(DLQPublishPayload)
	if !ok {
		t.Fatalf("expected DLQPublishPayload, got %T", dlq.calls[0].value)
	}
	if payload.OriginalTopic != "trades.executed" || payload.Error == "" {
		t.Fatalf("unexpected dlq payload: %+v", payload)
	}
}

func TestDLQPublisherPassesThroughOnSuccess(t *testing.T) {
	primary := &stubPublisher{}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "castled.dlq", slog.Default())

	if _, _, err := publisher.PublishJSON(context.Background(), "trades.executed", "BTC-USD", map[string]string{"trade_id": "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dlq.calls) != 0 {
		t.Fatalf("expected no dlq publish, got %d", len(dlq.calls))
	}
}

func TestDeterministicEventID(t *testing.T) {
	a := DeterministicEventID("trades.executed", "trade-1")
	b := DeterministicEventID("trades.executed", "trade-1")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == DeterministicEventID("trades.executed", "trade-2") {
		t.Fatalf("expected distinct ids for distinct parts")
	}
}

func TestNewEnvelopeWithIDValidation(t *testing.T) {
	if _, err := NewEnvelopeWithID("", "trades.executed", 1, ""); err == nil {
		t.Fatalf("expected error for missing event id")
	}
	if _, err := NewEnvelopeWithID("id-1", "", 1, ""); err == nil {
		t.Fatalf("expected error for missing event type")
	}
	if _, err := NewEnvelopeWithID("id-1", "trades.executed", 0, ""); err == nil {
		t.Fatalf("expected error for non-positive version")
	}

	env, err := NewEnvelopeWithID("id-1", "trades.executed", 1, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.EventID != "id-1" || env.CorrelationID != "corr-1" || env.Timestamp.IsZero() {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
