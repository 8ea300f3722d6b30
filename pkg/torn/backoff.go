package torn

import (
	"time"

	"github.com/tornwatch/torntrainer/pkg/ratelimit"
)

// ExponentialBackoff calculates retry delays for transient failures.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0.0 to 1.0, symmetric band
}

// DefaultBackoff returns the retry schedule used against the upstream API:
// 1s, 2s, 4s, 8s... capped at 60s, each with ±15% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   time.Second,
		Max:    60 * time.Second,
		Factor: 2.0,
		Jitter: ratelimit.DefaultJitter,
	}
}

// Next calculates the wait duration for the given attempt (1-based).
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	delay := float64(b.Base)
	for i := 1; i < attempt; i++ {
		delay *= b.Factor
	}
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return ratelimit.Jitter(time.Duration(delay), b.Jitter)
}
