// Package dedup remembers (topic, url) pairs the store has already confirmed,
// letting the scheduler skip inserts it knows would be duplicates.
//
// A cache is only an optimization while it describes the store it sits in
// front of: entries are marked after the store reports the row exists, and a
// miss always falls through to the store. A hit is trusted without asking the
// store, so a shared cache must be scoped to one durable store (see
// ScopedPrefix). Pairing a shared cache with a store that forgets its rows,
// like the in-memory one, would drop every item the cache remembers. Wiping a
// durable store in place needs its scoped keys flushed too.
package dedup

import (
	"context"

	"github.com/JakeFAU/topicstreams/internal/hash/sha256"
)

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "topicstreams"

// Cache reports and records (topic, url) pairs known to be stored.
type Cache interface {
	Seen(ctx context.Context, topic, url string) (bool, error)
	Mark(ctx context.Context, topic, url string) error
}

// ScopedPrefix appends a short digest of the store identity to prefix, so
// caches fronting different stores never share keys.
func ScopedPrefix(prefix, backend, location string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":" + sha256.New().Key(backend, location)[:16]
}
