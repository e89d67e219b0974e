package inmem

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"posapi/internal/api"
)

// DefaultStaleAfter is how long an idle client bucket is kept.
const DefaultStaleAfter = 10 * time.Minute

// RateLimiter keeps one token bucket per client key (the caller's IP).
type RateLimiter struct {
	limit      rate.Limit
	burst      int
	now        func() time.Time
	staleAfter time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithStaleAfter sets how long an idle bucket survives Cleanup.
func WithStaleAfter(d time.Duration) Option {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.staleAfter = d
		}
	}
}

// NewRateLimiter creates a limiter refilling ratePerSec tokens per second up
// to burst. clock is injectable for deterministic tests.
func NewRateLimiter(ratePerSec float64, burst int, clock func() time.Time, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit:      rate.Limit(ratePerSec),
		burst:      burst,
		now:        clock,
		staleAfter: DefaultStaleAfter,
		buckets:    make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow takes one token from key's bucket. A denied result carries the
// whole seconds until the next token is available, never less than 1.
func (rl *RateLimiter) Allow(key string) api.RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return api.RateLimitResult{Allowed: true}
	}
	return api.RateLimitResult{RetryAfter: rl.retryAfter(b.limiter.TokensAt(now))}
}

func (rl *RateLimiter) retryAfter(tokens float64) int {
	if rl.limit <= 0 {
		return 1
	}
	return max(int(math.Ceil((1-tokens)/float64(rl.limit))), 1)
}

// Cleanup drops buckets idle for longer than the stale threshold and
// returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.staleAfter {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// BucketCount returns the number of tracked clients.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
