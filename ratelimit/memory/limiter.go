// Package memory provides an in-process implementation of the
// mfgauth.RateLimiter interface. Counters are not shared across instances, so
// it only bounds abuse correctly for single-process deployments; use
// ratelimit/redis when running more than one replica.
package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements mfgauth.RateLimiter with per-process counters.
type RateLimiter struct {
	entries map[string]*entry
	mu      sync.Mutex
}

type entry struct {
	count   int
	expires time.Time
}

// New creates a new in-process rate limiter. A background goroutine evicts
// expired windows once a minute.
func New() *RateLimiter {
	rl := &RateLimiter{entries: make(map[string]*entry)}
	go rl.cleanup()
	return rl
}

// Allow reports whether another request fits in the key's current window and
// how many requests remain.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	e, exists := r.entries[key]

	if !exists || now.After(e.expires) {
		r.entries[key] = &entry{count: 1, expires: now.Add(window)}
		return true, limit - 1, nil
	}

	e.count++
	remaining := limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return e.count <= limit, remaining, nil
}

func (r *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		r.mu.Lock()
		now := time.Now()
		for key, e := range r.entries {
			if now.After(e.expires) {
				delete(r.entries, key)
			}
		}
		r.mu.Unlock()
	}
}
