package dedup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheMarksAndSees(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := NewMemoryCache(0)
	seen, err := cache.Seen(ctx, "bitcoin", "https://a.example/1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, cache.Mark(ctx, "bitcoin", "https://a.example/1"))
	seen, err = cache.Seen(ctx, "bitcoin", "https://a.example/1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = cache.Seen(ctx, "china", "https://a.example/1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestMemoryCacheResetsWhenFull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := NewMemoryCache(2)
	require.NoError(t, cache.Mark(ctx, "t", "1"))
	require.NoError(t, cache.Mark(ctx, "t", "2"))
	require.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Mark(ctx, "t", "3"))
	require.Equal(t, 1, cache.Len())
	seen, err := cache.Seen(ctx, "t", "1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedisCacheHonorsTTL(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewRedisCache(client, "test", time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cache.Mark(ctx, "bitcoin", "https://a.example/1"))
	seen, err := cache.Seen(ctx, "bitcoin", "https://a.example/1")
	require.NoError(t, err)
	require.True(t, seen)

	key := cache.key("bitcoin", "https://a.example/1")
	require.True(t, srv.Exists(key))
	require.Equal(t, time.Hour, srv.TTL(key))

	srv.FastForward(2 * time.Hour)
	seen, err = cache.Seen(ctx, "bitcoin", "https://a.example/1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedisCacheSurfacesErrors(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	cache, err := NewRedisCache(client, "", 0)
	require.NoError(t, err)

	srv.Close()
	_, err = cache.Seen(context.Background(), "bitcoin", "u")
	require.Error(t, err)
	require.Error(t, cache.Mark(context.Background(), "bitcoin", "u"))
}

func TestScopedPrefixSeparatesStores(t *testing.T) {
	t.Parallel()

	a := ScopedPrefix("news", "sqlite", "/data/a.db")
	require.Equal(t, a, ScopedPrefix("news", "sqlite", "/data/a.db"))
	require.NotEqual(t, a, ScopedPrefix("news", "sqlite", "/data/b.db"))
	require.NotEqual(t, a, ScopedPrefix("news", "postgres", "/data/a.db"))
	require.True(t, strings.HasPrefix(a, "news:"))
	require.True(t, strings.HasPrefix(ScopedPrefix("", "sqlite", "x"), DefaultPrefix+":"))
}

func TestRedisCachesWithDifferentScopesDoNotShareKeys(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	first, err := NewRedisCache(client, ScopedPrefix("", "sqlite", "/data/a.db"), time.Hour)
	require.NoError(t, err)
	second, err := NewRedisCache(client, ScopedPrefix("", "sqlite", "/data/b.db"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, first.Mark(ctx, "bitcoin", "https://a.example/1"))
	seen, err := second.Seen(ctx, "bitcoin", "https://a.example/1")
	require.NoError(t, err)
	require.False(t, seen)
}
