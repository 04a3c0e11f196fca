// Package ratelimit counts requests per client in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

type Limiter interface {
	// Allow counts one hit for key and tells whether it fits the window.
	Allow(ctx context.Context, key string) (Result, error)
}

func result(count int64, limit int, ttl time.Duration) Result {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= int64(limit), Limit: limit, Remaining: remaining, ResetIn: ttl}
}

type redisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb redis.Cmdable, prefix string, limit int, window time.Duration) Limiter {
	return &redisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.prefix + ":" + key
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "counting request")
	}
	return result(incr.Val(), l.limit, ttl.Val()), nil
}

type window struct {
	count int64
	ends  time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	span    time.Duration
	now     func() time.Time
}

// NewMemoryLimiter keeps the counters in process. It serves single-instance deployments without Redis.
func NewMemoryLimiter(limit int, span time.Duration) Limiter {
	return &memoryLimiter{windows: make(map[string]*window), limit: limit, span: span, now: time.Now}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.ends) {
		if len(l.windows) > 10000 {
			l.sweep(now)
		}
		w = &window{ends: now.Add(l.span)}
		l.windows[key] = w
	}
	w.count++
	return result(w.count, l.limit, w.ends.Sub(now)), nil
}

func (l *memoryLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.ends) {
			delete(l.windows, k)
		}
	}
}
