package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/topicstreams/internal/relay"
)

// DefaultRedisChannel prefixes per-topic channels when none is configured.
const DefaultRedisChannel = "topicstreams:news"

// RedisSink PUBLISHes each event on "<prefix>:<topic>", so consumers can
// PSUBSCRIBE to every topic or SUBSCRIBE to one.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink returns a sink over client.
func NewRedisSink(client redis.UniversalClient, prefix string) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisChannel
	}
	return &RedisSink{client: client, prefix: prefix}, nil
}

// Name labels the sink in metrics.
func (s *RedisSink) Name() string { return "redis" }

// Channel returns the channel a topic's events are published on.
func (s *RedisSink) Channel(topic string) string {
	return s.prefix + ":" + topic
}

// Consume pipelines one PUBLISH per event.
func (s *RedisSink) Consume(ctx context.Context, batch []relay.Event) error {
	pipe := s.client.Pipeline()
	for _, evt := range batch {
		payload, err := evt.Payload()
		if err != nil {
			return err
		}
		pipe.Publish(ctx, s.Channel(evt.Item.Topic), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close is a no-op; the client is shared with the seen-cache.
func (s *RedisSink) Close(context.Context) error {
	return nil
}
