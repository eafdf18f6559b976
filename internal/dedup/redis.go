package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/topicstreams/internal/hash/sha256"
)

// DefaultTTL bounds how long a RedisCache entry lives.
const DefaultTTL = 7 * 24 * time.Hour

// RedisCache keeps hashed pairs in Redis with a TTL, so several processes and
// restarts share one view.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	hasher *sha256.Hasher
}

// NewRedisCache stores keys as "<prefix>:seen:<sha256(topic, url)>".
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, hasher: sha256.New()}, nil
}

func (c *RedisCache) key(topic, url string) string {
	return c.prefix + ":seen:" + c.hasher.Key(topic, url)
}

// Seen checks for the pair's key.
func (c *RedisCache) Seen(ctx context.Context, topic, url string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(topic, url)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Mark sets the pair's key with the cache TTL.
func (c *RedisCache) Mark(ctx context.Context, topic, url string) error {
	if err := c.client.Set(ctx, c.key(topic, url), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
