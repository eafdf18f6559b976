package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/topicstreams/internal/relay"
)

type pubsubPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// PubSubSink publishes each event as one Pub/Sub message. The news topic is
// carried in the "topic" attribute so subscribers can filter on it.
type PubSubSink struct {
	publisher pubsubPublisher
}

// NewPubSubSink wraps a topic publisher.
func NewPubSubSink(publisher *pubsub.Publisher) (*PubSubSink, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	return &PubSubSink{publisher: publisher}, nil
}

// Name labels the sink in metrics.
func (s *PubSubSink) Name() string { return "pubsub" }

// Consume publishes the whole batch, then waits for every result.
func (s *PubSubSink) Consume(ctx context.Context, batch []relay.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		payload, err := evt.Payload()
		if err != nil {
			return err
		}
		results = append(results, s.publisher.Publish(ctx, &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				"topic":   evt.Item.Topic,
				"item_id": strconv.FormatInt(evt.Item.ID, 10),
			},
		}))
	}
	var errs []error
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publish item %d: %w", batch[i].Item.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending messages and stops the publisher's goroutines.
func (s *PubSubSink) Close(context.Context) error {
	s.publisher.Stop()
	return nil
}
