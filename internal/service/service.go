// Package service is the core API the request layer calls. It validates
// caller input, normalizes topic names and maps each request onto the
// registry, the item store or the live fan-out.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/fanout"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// Page size bounds for GetNews and GetLogs.
const (
	MinLimit = 1
	MaxLimit = 100
)

// Registry is the topic registry as seen by the request layer.
type Registry interface {
	Upsert(ctx context.Context, raw string) (news.Topic, error)
	Deactivate(ctx context.Context, raw string) error
	List(ctx context.Context, includeInactive bool) ([]news.Topic, error)
	EnsureActive(ctx context.Context, raw string) (news.Topic, error)
}

// LiveHub hands out live subscriptions.
type LiveHub interface {
	Subscribe(topic string) *fanout.Subscription
	Unsubscribe(sub *fanout.Subscription)
}

// NewsPage is one page of a topic's items with the topic's total count.
type NewsPage struct {
	Topic   string      `json:"topic"`
	Entries []news.Item `json:"entries"`
	Total   int         `json:"total"`
}

// Service implements the operations exposed over HTTP.
type Service struct {
	registry Registry
	items    news.ItemStore
	live     LiveHub
	logger   *zap.Logger
}

// New builds a Service.
func New(registry Registry, items news.ItemStore, live LiveHub, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, items: items, live: live, logger: logger}
}

// ListTopics returns tracked topics newest first.
func (s *Service) ListTopics(ctx context.Context, includeInactive bool) ([]news.Topic, error) {
	topics, err := s.registry.List(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// AddTopic starts tracking raw, reactivating it if it was removed.
func (s *Service) AddTopic(ctx context.Context, raw string) (news.Topic, error) {
	topic, err := s.registry.Upsert(ctx, raw)
	if err != nil {
		return news.Topic{}, fmt.Errorf("add topic: %w", err)
	}
	s.logger.Info("topic added", zap.String("topic", topic.Name))
	return topic, nil
}

// RemoveTopic stops scraping raw. Stored items stay queryable.
func (s *Service) RemoveTopic(ctx context.Context, raw string) error {
	if err := s.registry.Deactivate(ctx, raw); err != nil {
		return fmt.Errorf("remove topic: %w", err)
	}
	return nil
}

// GetNews pages through a topic's items, newest first. Unknown topics yield
// an empty page.
func (s *Service) GetNews(ctx context.Context, raw string, limit, offset int) (NewsPage, error) {
	name, err := news.ValidateTopic(raw)
	if err != nil {
		return NewsPage{}, err
	}
	if err := checkLimit(limit); err != nil {
		return NewsPage{}, err
	}
	if offset < 0 {
		return NewsPage{}, fmt.Errorf("%w: offset must be >= 0", news.ErrInvalidInput)
	}
	entries, total, err := s.items.QueryItems(ctx, name, limit, offset)
	if err != nil {
		return NewsPage{}, news.StorageError(fmt.Sprintf("query items for %q", name), err)
	}
	if entries == nil {
		entries = []news.Item{}
	}
	return NewsPage{Topic: name, Entries: entries, Total: total}, nil
}

// GetLogs returns the most recent visit logs across all topics.
func (s *Service) GetLogs(ctx context.Context, limit int) ([]news.VisitLog, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	logs, err := s.items.ListVisitLogs(ctx, limit)
	if err != nil {
		return nil, news.StorageError("list visit logs", err)
	}
	if logs == nil {
		logs = []news.VisitLog{}
	}
	return logs, nil
}

// SubscribeLive ensures raw is an active topic, so the scheduler picks it up
// at its next snapshot, and registers a live subscription for it.
func (s *Service) SubscribeLive(ctx context.Context, raw string) (*fanout.Subscription, error) {
	topic, err := s.registry.EnsureActive(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := s.live.Subscribe(topic.Name)
	s.logger.Info("live subscription opened",
		zap.String("topic", topic.Name),
		zap.String("subscription_id", sub.ID()),
	)
	return sub, nil
}

// Unsubscribe ends sub. Safe to call more than once.
func (s *Service) Unsubscribe(sub *fanout.Subscription) {
	if sub == nil {
		return
	}
	s.live.Unsubscribe(sub)
	s.logger.Info("live subscription closed",
		zap.String("topic", sub.Topic()),
		zap.String("subscription_id", sub.ID()),
	)
}

func checkLimit(limit int) error {
	if limit < MinLimit || limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between %d and %d", news.ErrInvalidInput, MinLimit, MaxLimit)
	}
	return nil
}
