package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/topicstreams/internal/news"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(id int64) Event {
	return Event{
		Item: news.Item{
			ID:        id,
			Topic:     "bitcoin",
			URL:       "https://news.example/btc",
			ScrapedAt: time.Unix(1700000000, 0).UTC(),
		},
		InsertedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(1))
	hub.Emit(sampleEvent(2))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(1))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Emit(sampleEvent(2))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	hub := &Hub{queue: make(chan Event), logger: zap.New(core)}
	start := time.Now()
	hub.Emit(sampleEvent(1))
	hub.Emit(sampleEvent(2))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())

	// A zero Sometimes reports only the first drop.
	warnings := logs.FilterMessage("relay events dropped due to backpressure").All()
	require.Len(t, warnings, 1)
	require.Equal(t, int64(1), warnings[0].ContextMap()["dropped"])
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Item: news.Item{Topic: "bitcoin"}, InsertedAt: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(1))
	hub.Emit(sampleEvent(2))
	require.NoError(t, hub.Close(context.Background()))

	total := 0
	for _, batch := range sink.Batches() {
		total += len(batch)
	}
	require.Equal(t, 2, total)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(3))
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("broker unavailable")}
	healthy := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, healthy)
	hub.Emit(sampleEvent(1))
	hub.Emit(sampleEvent(2))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, failing.Batches(), 2)
	require.Len(t, healthy.Batches(), 2)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(1))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventPayload(t *testing.T) {
	t.Parallel()

	evt := sampleEvent(9)
	evt.Item.Title = "Bitcoin tops record"
	data, err := evt.Payload()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"id": 9,
		"topic": "bitcoin",
		"url": "https://news.example/btc",
		"title": "Bitcoin tops record",
		"scraped_at": "2023-11-14T22:13:20Z"
	}`, string(data))
}
