package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter gates outbound API calls. Acquire blocks until one request may be
// issued, or returns the context error if the caller gives up first.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// DefaultJitter is the symmetric jitter band applied to spacing and backoff
// delays to keep independent limiter instances from synchronizing.
const DefaultJitter = 0.15

// pollFloor is the minimum sleep between grant re-evaluations.
const pollFloor = 50 * time.Millisecond

// Jitter perturbs d by ±frac. Never returns a negative duration.
func Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * frac
	out := float64(d) + (rand.Float64()*2-1)*delta
	if out < 0 {
		return 0
	}
	return time.Duration(out)
}

// TokenBucket is a token bucket with a minimum spacing floor between grants.
// Tokens refill continuously; a grant needs a full token AND at least
// minSpacing (jittered) since the previous grant. Safe for concurrent use:
// the refill/debit section runs under a mutex and waiters re-evaluate after
// each sleep.
type TokenBucket struct {
	mu sync.Mutex

	capacity     float64
	tokens       float64
	refillPerSec float64
	minSpacing   time.Duration
	jitter       float64

	lastRefill time.Time
	lastGrant  time.Time

	now func() time.Time
}

// NewTokenBucket creates a full bucket. capacity is clamped to >= 1,
// refillPerSec to >= 0.001 and minSpacing to >= 0 so a misconfigured
// caller cannot stall the limiter.
func NewTokenBucket(capacity int, refillPerSec float64, minSpacing time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerSec < 0.001 {
		refillPerSec = 0.001
	}
	if minSpacing < 0 {
		minSpacing = 0
	}
	b := &TokenBucket{
		capacity:     float64(capacity),
		tokens:       float64(capacity),
		refillPerSec: refillPerSec,
		minSpacing:   minSpacing,
		jitter:       DefaultJitter,
		now:          time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// SetNowFunc overrides the clock. For tests.
func (b *TokenBucket) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.lastRefill = now()
}

// refill adds tokens for the elapsed time, capped at capacity.
// Caller must hold b.mu.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Acquire blocks until a request may be issued, then debits one token and
// records the grant time. Returns ctx.Err() if the context is done first.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		now := b.now()
		var deficit time.Duration
		if !b.lastGrant.IsZero() {
			deficit = b.minSpacing - now.Sub(b.lastGrant)
		}
		if b.tokens >= 1.0 && deficit <= 0 {
			b.tokens--
			b.lastGrant = b.now()
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		delay := pollFloor
		if deficit > 0 {
			if j := Jitter(deficit, b.jitter); j > delay {
				delay = j
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Tokens reports the current token count after a refill. For tests and
// status surfaces.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
