package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket per endpoint key. A bucket holds at
// most burst tokens and refills at rate tokens per second.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:    ratePerSecond,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	bucket, ok := rl.buckets[key]
	if !ok {
		capacity := rl.burst
		bucket = &tokenBucket{
			tokens:     capacity,
			capacity:   capacity,
			refillRate: rl.rate,
			lastRefill: rl.now(),
		}
		rl.buckets[key] = bucket
	}
	return bucket
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// ShouldAllow reports whether a request for the key may proceed right
// now, without consuming a token.
func (rl *RateLimiter) ShouldAllow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.bucket(key)
	bucket.refill(rl.now())
	return bucket.tokens >= 1
}

// RecordRequest consumes one token for the key.
func (rl *RateLimiter) RecordRequest(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.bucket(key)
	bucket.refill(rl.now())
	bucket.tokens--
	if bucket.tokens < 0 {
		bucket.tokens = 0
	}
}

// nextAvailable returns how long until a token is available, zero if
// one is available now.
func (rl *RateLimiter) nextAvailable(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.bucket(key)
	bucket.refill(rl.now())
	if bucket.tokens >= 1 {
		return 0
	}
	missing := 1 - bucket.tokens
	return time.Duration(missing / bucket.refillRate * float64(time.Second))
}

// WaitForAvailability suspends until a token is available for the key
// or the context is cancelled.
func (rl *RateLimiter) WaitForAvailability(ctx context.Context, key string) error {
	for {
		wait := rl.nextAvailable(key)
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
