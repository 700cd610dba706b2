// Package ratelimit provides Redis-backed sliding window rate limiting with
// a fail-open fallback when Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter counts events in a rolling window using a Redis
// sorted set. The check-and-add is a single Lua script, so concurrent
// callers cannot overshoot the limit.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewSlidingWindowLimiter creates a limiter allowing limit events per
// window.
func NewSlidingWindowLimiter(redisClient *redis.Client, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_events = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_events then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// Allow reports whether one more event fits in the window, and if not, how
// long until a slot frees up. Redis being down or erroring allows the
// event; the limiter protects throughput, it is not a security boundary.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil {
		return true, 0
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis,
		[]string{fmt.Sprintf("ratelimit:%s", key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// Debouncer suppresses repeated triggers of the same key within a window.
// Falls back to a local map when Redis is absent.
type Debouncer struct {
	redis    *redis.Client
	duration time.Duration

	mu    sync.RWMutex
	local map[string]time.Time
}

// NewDebouncer creates a debouncer with the given suppression window.
func NewDebouncer(redisClient *redis.Client, duration time.Duration) *Debouncer {
	return &Debouncer{
		redis:    redisClient,
		duration: duration,
		local:    make(map[string]time.Time),
	}
}

// IsDuplicate reports whether the key fired within the window.
func (d *Debouncer) IsDuplicate(ctx context.Context, key string) bool {
	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, "debounce:"+key).Result()
		if err == nil {
			return exists > 0
		}
	}

	d.mu.RLock()
	last, ok := d.local[key]
	d.mu.RUnlock()
	return ok && time.Since(last) < d.duration
}

// Mark records the key as fired.
func (d *Debouncer) Mark(ctx context.Context, key string) {
	if d.redis != nil {
		d.redis.Set(ctx, "debounce:"+key, "1", d.duration)
	}

	d.mu.Lock()
	now := time.Now()
	d.local[key] = now
	for k, v := range d.local {
		if now.Sub(v) > d.duration*2 {
			delete(d.local, k)
		}
	}
	d.mu.Unlock()
}
