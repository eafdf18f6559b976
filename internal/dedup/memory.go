package dedup

import (
	"context"
	"sync"
)

// DefaultMaxEntries caps a MemoryCache before it resets.
const DefaultMaxEntries = 25000

type pair struct {
	topic string
	url   string
}

// MemoryCache is a bounded in-process set. Once it grows past its cap it is
// cleared and starts over.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	entries map[pair]struct{}
}

// NewMemoryCache returns a cache holding at most maxEntries pairs.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{max: maxEntries, entries: make(map[pair]struct{})}
}

// Seen reports whether the pair was marked since the last reset.
func (c *MemoryCache) Seen(_ context.Context, topic, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[pair{topic: topic, url: url}]
	return ok, nil
}

// Mark records the pair, clearing the cache first if it is full.
func (c *MemoryCache) Mark(_ context.Context, topic, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		clear(c.entries)
	}
	c.entries[pair{topic: topic, url: url}] = struct{}{}
	return nil
}

// Len returns the number of remembered pairs.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
