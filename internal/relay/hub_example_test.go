package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/topicstreams/internal/news"
)

type countingSink struct {
	topics map[string]int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.topics[evt.Item.Topic]++
	}
	return nil
}

func (s *countingSink) Close(context.Context) error { return nil }

// ExampleHub_Emit shows events reaching a sink once the hub is closed.
func ExampleHub_Emit() {
	sink := &countingSink{topics: map[string]int{}}
	hub := NewHub(Config{MaxBatchEvents: 10, MaxBatchWait: time.Minute}, sink)

	at := time.Unix(0, 0).UTC()
	hub.Emit(Event{Item: news.Item{ID: 1, Topic: "bitcoin"}, InsertedAt: at})
	hub.Emit(Event{Item: news.Item{ID: 2, Topic: "bitcoin"}, InsertedAt: at})
	hub.Emit(Event{Item: news.Item{ID: 3, Topic: "china"}, InsertedAt: at})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bitcoin=%d china=%d\n", sink.topics["bitcoin"], sink.topics["china"])
	// Output:
	// bitcoin=2 china=1
}
