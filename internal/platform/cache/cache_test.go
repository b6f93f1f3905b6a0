package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	IDs []string `json:"ids"`
}

func setupTestRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, newRedisWithClient(client, RedisOptions{Namespace: "test", TTL: ttl})
}

func TestMemoryInvalidateDropsOnlyScope(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	c.Set(ctx, "store_a", "limit=20", page{IDs: []string{"p1"}})
	c.Set(ctx, "store_b", "limit=20", page{IDs: []string{"p2"}})

	c.Invalidate(ctx, "store_a")

	var got page
	assert.False(t, c.Get(ctx, "store_a", "limit=20", &got))
	require.True(t, c.Get(ctx, "store_b", "limit=20", &got))
	assert.Equal(t, []string{"p2"}, got.IDs)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set(ctx, "s", "k", page{IDs: []string{"x"}})

	var got page
	assert.True(t, c.Get(ctx, "s", "k", &got))
	c.now = func() time.Time { return now.Add(2 * time.Second) }
	assert.False(t, c.Get(ctx, "s", "k", &got))
}

func TestRedisRoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	_, c := setupTestRedis(t, time.Minute)

	c.Set(ctx, "store_a", "limit=20", page{IDs: []string{"p1", "p2"}})
	var got page
	require.True(t, c.Get(ctx, "store_a", "limit=20", &got))
	assert.Equal(t, []string{"p1", "p2"}, got.IDs)

	c.Invalidate(ctx, "store_a")
	assert.False(t, c.Get(ctx, "store_a", "limit=20", &got))
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mr, c := setupTestRedis(t, 100*time.Millisecond)
	c.Set(ctx, "s", "k", page{IDs: []string{"x"}})

	mr.FastForward(200 * time.Millisecond)

	var got page
	assert.False(t, c.Get(ctx, "s", "k", &got))
}

func TestRedisFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	mr, c := setupTestRedis(t, time.Minute)
	c.Set(ctx, "s", "k", page{IDs: []string{"x"}})
	mr.Close()

	var got page
	assert.False(t, c.Get(ctx, "s", "k", &got))
	c.Invalidate(ctx, "s")
}
