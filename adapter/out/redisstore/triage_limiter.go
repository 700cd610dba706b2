package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"triage_server/pkg/logger"
	"triage_server/pkg/ratelimit"
)

// ClassifyLimiter implements out.ClassifyLimiter with a Redis sliding
// window shared across instances. Redis failures fail open: a degraded
// limiter must not stall the whole pipeline.
type ClassifyLimiter struct {
	limiter *ratelimit.SlidingWindowLimiter
}

// NewClassifyLimiter allows limit classifications per window.
func NewClassifyLimiter(client *redis.Client, limit int, window time.Duration) *ClassifyLimiter {
	return &ClassifyLimiter{
		limiter: ratelimit.NewSlidingWindowLimiter(client, limit, window),
	}
}

// CanClassifyEmail consumes one slot from the window if available.
func (l *ClassifyLimiter) CanClassifyEmail(ctx context.Context) bool {
	allowed, wait := l.limiter.Allow(ctx, "classify")
	if !allowed {
		logger.Warn("classify limiter: window exhausted, next slot in %s", wait)
	}
	return allowed
}
