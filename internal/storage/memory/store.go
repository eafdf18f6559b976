// Package memory keeps topics, items and visit logs in process memory.
// It backs development runs and tests; nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/topicstreams/internal/clock/system"
	"github.com/JakeFAU/topicstreams/internal/news"
)

type itemKey struct {
	topic string
	url   string
}

// Store implements news.Store behind a single mutex.
type Store struct {
	mu          sync.RWMutex
	clock       news.Clock
	topics      map[string]news.Topic
	items       map[string][]news.Item
	index       map[itemKey]struct{}
	logs        []news.VisitLog
	nextItemID  int64
	nextLogID   int64
	lastScraped time.Time
}

// NewStore constructs an empty Store. A nil clock uses the system clock.
func NewStore(clock news.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{
		clock:  clock,
		topics: make(map[string]news.Topic),
		items:  make(map[string][]news.Item),
		index:  make(map[itemKey]struct{}),
	}
}

// UpsertTopic creates or reactivates a topic.
func (s *Store) UpsertTopic(_ context.Context, name string, now time.Time) (news.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topics[name]
	if !ok {
		topic = news.Topic{Name: name, CreatedAt: now}
	}
	topic.Active = true
	s.topics[name] = topic
	return topic, nil
}

// DeactivateTopic marks a topic inactive; unknown names are ignored.
func (s *Store) DeactivateTopic(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topic, ok := s.topics[name]; ok {
		topic.Active = false
		s.topics[name] = topic
	}
	return nil
}

// ListTopics returns topics newest first, ties broken by name.
func (s *Store) ListTopics(_ context.Context, activeOnly bool) ([]news.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Topic, 0, len(s.topics))
	for _, topic := range s.topics {
		if activeOnly && !topic.Active {
			continue
		}
		out = append(out, topic)
	}
	slices.SortFunc(out, func(a, b news.Topic) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// InsertIfAbsent stores raw unless (topic, url) is already present.
// scraped_at never moves backwards across inserts.
func (s *Store) InsertIfAbsent(_ context.Context, topic string, raw news.RawItem) (news.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := itemKey{topic: topic, url: raw.URL}
	if _, exists := s.index[key]; exists {
		return news.Item{}, false, nil
	}
	now := s.clock.Now()
	if now.Before(s.lastScraped) {
		now = s.lastScraped
	}
	s.lastScraped = now
	s.nextItemID++
	item := news.NewItem(topic, raw, s.nextItemID, now)
	s.index[key] = struct{}{}
	s.items[topic] = append(s.items[topic], item)
	return item, true, nil
}

// QueryItems pages through a topic newest first.
func (s *Store) QueryItems(_ context.Context, topic string, limit, offset int) ([]news.Item, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.items[topic]
	total := len(stored)
	out := make([]news.Item, 0, min(limit, total))
	// Appends are ordered by (scraped_at, id) ascending, so walk backwards.
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, stored[i])
	}
	return out, total, nil
}

// AppendVisitLog records a visit outcome and assigns its ID.
func (s *Store) AppendVisitLog(_ context.Context, entry news.VisitLog) (news.VisitLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	s.logs = append(s.logs, entry)
	return entry, nil
}

// ListVisitLogs returns up to limit logs ordered by attempt time, newest first.
func (s *Store) ListVisitLogs(_ context.Context, limit int) ([]news.VisitLog, error) {
	s.mu.RLock()
	out := slices.Clone(s.logs)
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b news.VisitLog) int {
		if c := b.AttemptedAt.Compare(a.AttemptedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
