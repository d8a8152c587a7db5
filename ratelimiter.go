package zerohack

import (
	"sync"
	"time"
)

// TokenBucketRateLimiter implements RateLimiter with per-key token buckets.
// Keys are caller-defined; the dispatcher keys ledger submissions by source
// IP so one noisy attacker cannot drain the chain budget for everyone.
type TokenBucketRateLimiter struct {
	capacity   int
	refillRate time.Duration

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewTokenBucketRateLimiter(capacity int, refillRate time.Duration) *TokenBucketRateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Minute
	}
	return &TokenBucketRateLimiter{
		capacity:   capacity,
		refillRate: refillRate,
		buckets:    make(map[string]*tokenBucket),
	}
}

// Allow consumes one token from the key's bucket. A full refill takes
// refillRate; tokens accrue continuously up to capacity.
func (rl *TokenBucketRateLimiter) Allow(key string) (bool, int, time.Time, error) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.capacity), lastRefill: now}
		rl.buckets[key] = bucket
	} else {
		elapsed := now.Sub(bucket.lastRefill)
		refill := elapsed.Seconds() * float64(rl.capacity) / rl.refillRate.Seconds()
		if refill > 0 {
			bucket.tokens += refill
			if bucket.tokens > float64(rl.capacity) {
				bucket.tokens = float64(rl.capacity)
			}
			bucket.lastRefill = now
		}
	}

	reset := now.Add(rl.refillRate)
	if bucket.tokens < 1 {
		return false, 0, reset, nil
	}
	bucket.tokens--
	return true, int(bucket.tokens), reset, nil
}

func (rl *TokenBucketRateLimiter) HealthCheck() error { return nil }

// Prune drops buckets idle longer than the given duration.
func (rl *TokenBucketRateLimiter) Prune(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}
