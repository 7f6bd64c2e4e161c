// Package redis provides a Redis rate limiter implementation.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements mfgauth.RateLimiter using Redis, sharing counters
// across all service instances.
type RateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// New creates a new Redis rate limiter. Keys are namespaced under prefix.
func New(client redis.UniversalClient, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{client: client, prefix: prefix}
}

// Allow checks if an action is allowed under the rate limit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	fullKey := r.prefix + ":" + key

	pipe := r.client.TxPipeline()
	countCmd := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, err
	}

	count := int(countCmd.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, nil
}
