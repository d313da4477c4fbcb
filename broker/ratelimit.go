package broker

import (
	"context"
	"sync"
	"time"
)

// bucket is a hand-rolled token bucket matching RiskManager's own
// counter-style state tracking rather than pulling in a rate-limiting
// dependency for three counters (SPEC_FULL.md §3).
type bucket struct {
	mu       sync.Mutex
	capacity int
	tokens   int
	window   time.Duration
	resetAt  time.Time
}

func newBucket(capacity int, window time.Duration) *bucket {
	return &bucket{capacity: capacity, tokens: capacity, window: window, resetAt: time.Now().Add(window)}
}

func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.tokens = b.capacity
		b.resetAt = now.Add(b.window)
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter enforces the per-second/per-minute/per-day limits spec.md
// §4.1 names for each broker adapter, plus the bounded concurrent-call
// semaphore from §5.
type RateLimiter struct {
	perSecond *bucket
	perMinute *bucket
	perDay    *bucket
	sem       chan struct{}
}

// NewRateLimiter builds a limiter; concurrency bounds simultaneous
// in-flight broker calls regardless of the token-bucket state.
func NewRateLimiter(perSecond, perMinute, perDay, concurrency int) *RateLimiter {
	return &RateLimiter{
		perSecond: newBucket(perSecond, time.Second),
		perMinute: newBucket(perMinute, time.Minute),
		perDay:    newBucket(perDay, 24*time.Hour),
		sem:       make(chan struct{}, concurrency),
	}
}

// Allow reports whether a call may proceed right now under the token
// buckets, without touching the concurrency semaphore.
func (r *RateLimiter) Allow() bool {
	now := time.Now()
	return r.perSecond.take(now) && r.perMinute.take(now) && r.perDay.take(now)
}

// Acquire blocks for a concurrency slot, returning a release func, or
// returns ctx.Err() if the context is cancelled first.
func (r *RateLimiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a concurrency slot without blocking, for reconcilers
// that would rather skip a cycle than queue behind in-flight broker calls.
func (r *RateLimiter) TryAcquire() (func(), bool) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, true
	default:
		return nil, false
	}
}
