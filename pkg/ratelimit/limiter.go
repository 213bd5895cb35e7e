package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// TokenBucket implements the token bucket algorithm for rate limiting
type TokenBucket struct {
	capacity   int        // Maximum number of tokens
	tokens     float64    // Current number of tokens
	refillRate float64    // Tokens added per second
	lastRefill time.Time  // Last time tokens were refilled
	clock      Clock      // Time source
	mu         sync.Mutex // Mutex for thread safety

	// interval, when set, replaces the token count with an exact
	// minimum spacing between allowed requests
	interval    time.Duration
	lastAllowed time.Time
}

// NewTokenBucket creates a new token bucket rate limiter
// capacity: Maximum number of requests allowed in a burst
// refillRate: Number of requests allowed per second
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, clock Clock) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: clock(),
		clock:      clock,
	}
}

func newIntervalBucket(interval time.Duration, clock Clock) *TokenBucket {
	return &TokenBucket{
		capacity:   1,
		interval:   interval,
		lastRefill: clock(),
		clock:      clock,
	}
}

// refill adds tokens for the time elapsed since the last refill. Caller holds mu.
func (tb *TokenBucket) refill() {
	now := tb.clock()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens = math.Min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
	}
	tb.lastRefill = now
}

// Allow checks if a request should be allowed
// Returns true if the request is allowed, false if rate limited
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.interval > 0 {
		now := tb.clock()
		tb.lastRefill = now
		if !tb.lastAllowed.IsZero() && now.Sub(tb.lastAllowed) < tb.interval {
			return false
		}
		tb.lastAllowed = now
		return true
	}

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}

	return false
}

// RetryAfter returns how long until the next token is available (0 when one is available now)
func (tb *TokenBucket) RetryAfter() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.interval > 0 {
		if tb.lastAllowed.IsZero() {
			return 0
		}
		return max(tb.interval-tb.clock().Sub(tb.lastAllowed), 0)
	}

	tb.refill()

	if tb.tokens >= 1.0 || tb.refillRate <= 0 {
		return 0
	}
	seconds := (1.0 - tb.tokens) / tb.refillRate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = float64(tb.capacity)
	tb.lastRefill = tb.clock()
	tb.lastAllowed = time.Time{}
}

// RateLimiter manages multiple token buckets
type RateLimiter struct {
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate float64
	interval   time.Duration
	clock      Clock
	mu         sync.RWMutex
	ttl        time.Duration // Time to live for inactive buckets
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithClock sets the time source used by every bucket
func WithClock(clock Clock) Option {
	return func(rl *RateLimiter) {
		rl.clock = clock
	}
}

// NewRateLimiter creates a new rate limiter
// capacity: Maximum number of requests allowed in a burst per key
// refillRate: Number of requests allowed per second per key
// ttl: Time to keep inactive buckets in memory (0 = forever)
func NewRateLimiter(capacity int, refillRate float64, ttl time.Duration, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		clock:      time.Now,
		ttl:        ttl,
	}

	for _, opt := range opts {
		opt(rl)
	}

	// Start cleanup goroutine if TTL is set
	if ttl > 0 {
		go rl.cleanup()
	}

	return rl
}

// NewIntervalLimiter allows one request per key every interval, measured
// exactly from the last allowed request. interval must be positive.
func NewIntervalLimiter(interval time.Duration, opts ...Option) *RateLimiter {
	rl := NewRateLimiter(1, 1.0/interval.Seconds(), 0, opts...)
	rl.interval = interval
	return rl
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.buckets[key]
	if !exists {
		if rl.interval > 0 {
			bucket = newIntervalBucket(rl.interval, rl.clock)
		} else {
			bucket = newTokenBucket(rl.capacity, rl.refillRate, rl.clock)
		}
		rl.buckets[key] = bucket
	}
	return bucket
}

// Allow checks if a request for the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// RetryAfter returns how long the given key has to wait for its next request
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if !exists {
		return 0
	}
	return bucket.RetryAfter()
}

// Reset resets the rate limiter for a specific key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		bucket.Reset()
	}
}

// cleanup periodically removes inactive buckets
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.ttl)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := rl.clock()
		for key, bucket := range rl.buckets {
			bucket.mu.Lock()
			idle := now.Sub(bucket.lastRefill)
			bucket.mu.Unlock()
			if idle > rl.ttl {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
