// Package relay forwards newly inserted items to external transports
// (Postgres NOTIFY, Pub/Sub, Redis) without ever slowing the scraper.
//
// The relay is an optimization layered on the in-process fan-out. Events are
// buffered, batched and handed to sinks on a background goroutine; when the
// buffer is full new events are dropped and counted.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/topicstreams/internal/news"
)

// Event announces one committed item.
type Event struct {
	Item       news.Item
	InsertedAt time.Time
}

// Validate rejects events that could not have come from a committed insert.
func (e Event) Validate() error {
	if e.Item.Topic == "" {
		return errors.New("topic is required")
	}
	if e.Item.ID <= 0 {
		return fmt.Errorf("item id %d is not a committed row", e.Item.ID)
	}
	if e.InsertedAt.IsZero() {
		return errors.New("inserted_at is required")
	}
	return nil
}

// Message is the wire form shared by every sink.
type Message struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Message converts the event to its wire form.
func (e Event) Message() Message {
	return Message{
		ID:        e.Item.ID,
		Topic:     e.Item.Topic,
		URL:       e.Item.URL,
		Title:     e.Item.Title,
		Source:    e.Item.Source,
		ScrapedAt: e.Item.ScrapedAt,
	}
}

// Payload encodes the event's Message as JSON.
func (e Event) Payload() ([]byte, error) {
	data, err := json.Marshal(e.Message())
	if err != nil {
		return nil, fmt.Errorf("marshal relay message: %w", err)
	}
	return data, nil
}
