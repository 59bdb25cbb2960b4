package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// ErrRateLimitExceeded is returned when a key has no tokens left.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

// RateLimitError reports a throttled request.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// TokenBucket throttles work per key: each key holds up to capacity tokens and regains
// one every refillRate. Tokens are spent, not returned, so release is a no-op.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	now        func() time.Time
	acquired   int // acquisitions since the last prune
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// pruneEvery is how many acquisitions pass between sweeps of idle buckets.
const pruneEvery = 1024

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire spends one token of key or fails with ErrRateLimitExceeded.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}
	tb.refill(b, now)

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--

	tb.acquired++
	if tb.acquired >= pruneEvery {
		tb.acquired = 0
		tb.prune(now)
	}

	return func() {}, nil
}

func (tb *TokenBucket) refill(b *bucket, now time.Time) {
	n := int(now.Sub(b.lastRefill) / tb.refillRate)
	if n <= 0 {
		return
	}
	b.tokens = min(b.tokens+n, tb.capacity)
	b.lastRefill = b.lastRefill.Add(time.Duration(n) * tb.refillRate)
}

// prune forgets buckets that have refilled completely; a new bucket starts full anyway.
func (tb *TokenBucket) prune(now time.Time) {
	for key, b := range tb.buckets {
		tb.refill(b, now)
		if b.tokens >= tb.capacity {
			delete(tb.buckets, key)
		}
	}
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
