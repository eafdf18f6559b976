// Package registry owns the set of tracked topics. Names are normalized on
// the way in so every caller agrees on one spelling.
package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/clock/system"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// Registry validates topic names and delegates persistence to a TopicStore.
type Registry struct {
	store  news.TopicStore
	clock  news.Clock
	logger *zap.Logger
}

// New builds a Registry. A nil clock uses the system clock.
func New(store news.TopicStore, clock news.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, clock: clock, logger: logger}
}

// Upsert normalizes raw and creates or reactivates the topic.
func (r *Registry) Upsert(ctx context.Context, raw string) (news.Topic, error) {
	name, err := news.ValidateTopic(raw)
	if err != nil {
		return news.Topic{}, err
	}
	topic, err := r.store.UpsertTopic(ctx, name, r.clock.Now())
	if err != nil {
		return news.Topic{}, news.StorageError(fmt.Sprintf("upsert topic %q", name), err)
	}
	r.logger.Debug("topic upserted", zap.String("topic", name), zap.Time("created_at", topic.CreatedAt))
	return topic, nil
}

// Deactivate stops future scraping of the topic. Stored items are kept and
// unknown names succeed.
func (r *Registry) Deactivate(ctx context.Context, raw string) error {
	name, err := news.ValidateTopic(raw)
	if err != nil {
		return err
	}
	if err := r.store.DeactivateTopic(ctx, name); err != nil {
		return news.StorageError(fmt.Sprintf("deactivate topic %q", name), err)
	}
	r.logger.Info("topic deactivated", zap.String("topic", name))
	return nil
}

// List returns topics newest first, optionally including inactive ones.
func (r *Registry) List(ctx context.Context, includeInactive bool) ([]news.Topic, error) {
	topics, err := r.store.ListTopics(ctx, !includeInactive)
	if err != nil {
		return nil, news.StorageError("list topics", err)
	}
	return topics, nil
}

// EnsureActive is Upsert under the name used by live subscriptions.
func (r *Registry) EnsureActive(ctx context.Context, raw string) (news.Topic, error) {
	return r.Upsert(ctx, raw)
}

// Snapshot returns the names of all active topics at this instant.
func (r *Registry) Snapshot(ctx context.Context) ([]string, error) {
	topics, err := r.store.ListTopics(ctx, true)
	if err != nil {
		return nil, news.StorageError("snapshot topics", err)
	}
	names := make([]string, 0, len(topics))
	for _, topic := range topics {
		names = append(names, topic.Name)
	}
	return names, nil
}
