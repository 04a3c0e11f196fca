package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute).(*memoryLimiter)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	res, _ := l.Allow(ctx, "ip:1")
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, _ = l.Allow(ctx, "ip:1")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, _ = l.Allow(ctx, "ip:1")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.ResetIn)

	res, _ = l.Allow(ctx, "ip:2")
	assert.True(t, res.Allowed, "other clients are counted apart")

	now = now.Add(time.Minute)
	res, _ = l.Allow(ctx, "ip:1")
	assert.True(t, res.Allowed, "a new window starts")
}

func TestRedisLimiter_Allow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())

	l := NewRedisLimiter(rdb, "test:ratelimit", 2, time.Minute)
	key := uuid.New().String()
	defer rdb.Del(ctx, "test:ratelimit:"+key)

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.ResetIn, time.Duration(0))
}
