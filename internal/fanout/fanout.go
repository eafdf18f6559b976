// Package fanout delivers freshly stored items to live subscribers of a topic.
//
// Delivery never blocks the publisher for longer than SendTimeout per
// subscriber. A subscriber whose buffer cannot take an item is removed in the
// same Publish call and its Done channel is closed.
package fanout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/metrics"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// DefaultBufferSize is used when Config.BufferSize is not positive.
const DefaultBufferSize = 64

// Config controls per-subscription buffering.
type Config struct {
	// BufferSize is the number of items queued per subscription.
	BufferSize int
	// SendTimeout bounds the wait on a full buffer. Zero means never wait.
	SendTimeout time.Duration
	Logger      *zap.Logger
}

// Subscription is one live consumer of a topic.
type Subscription struct {
	id    string
	topic string
	ch    chan news.Item
	done  chan struct{}
	once  sync.Once
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Topic returns the normalized topic name.
func (s *Subscription) Topic() string { return s.topic }

// C yields delivered items. It is never closed; watch Done instead.
func (s *Subscription) C() <-chan news.Item { return s.ch }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub indexes subscriptions by topic.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.SendTimeout < 0 {
		cfg.SendTimeout = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a consumer for topic, which must already be normalized.
// After Close the returned subscription is already done.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		topic: topic,
		ch:    make(chan news.Item, h.cfg.BufferSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.topics[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	metrics.AddSubscribers(1)
	h.logger.Debug("subscriber added", zap.String("topic", topic), zap.String("subscription", sub.id))
	return sub
}

// Unsubscribe removes sub. Removing twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if h.remove(sub) {
		h.logger.Debug("subscriber removed", zap.String("topic", sub.topic), zap.String("subscription", sub.id))
	}
}

// Publish offers item to every subscriber of topic and returns how many
// accepted it. The subscriber set is copied under the lock and sends happen
// outside it, so subscribe and unsubscribe never wait on a slow consumer.
func (h *Hub) Publish(topic string, item news.Item) int {
	h.mu.Lock()
	set := h.topics[topic]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return 0
	}

	delivered := 0
	var failed []*Subscription
	for _, sub := range targets {
		if h.deliver(sub, item) {
			delivered++
			continue
		}
		failed = append(failed, sub)
	}
	for _, sub := range failed {
		if h.remove(sub) {
			h.logger.Debug("dropping slow subscriber",
				zap.String("topic", topic),
				zap.String("subscription", sub.id),
				zap.Int64("item_id", item.ID),
			)
		}
	}
	metrics.ObserveDeliveries(delivered, len(failed))
	return delivered
}

func (h *Hub) deliver(sub *Subscription, item news.Item) bool {
	select {
	case <-sub.done:
		return false
	default:
	}
	if h.cfg.SendTimeout == 0 {
		select {
		case sub.ch <- item:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(h.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case sub.ch <- item:
		return true
	case <-sub.done:
		return false
	case <-timer.C:
		return false
	}
}

// remove deletes sub and reports whether it was still registered.
func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	set, ok := h.topics[sub.topic]
	if ok {
		_, ok = set[sub]
		delete(set, sub)
		if len(set) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()
	sub.close()
	if ok {
		metrics.AddSubscribers(-1)
	}
	return ok
}

// Count returns the number of subscribers of topic.
func (h *Hub) Count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Topics reports the subscriber count per topic with at least one subscriber.
func (h *Hub) Topics() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.topics))
	for topic, set := range h.topics {
		out[topic] = len(set)
	}
	return out
}

// Close removes every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, set := range h.topics {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.topics = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	metrics.AddSubscribers(-len(all))
}
