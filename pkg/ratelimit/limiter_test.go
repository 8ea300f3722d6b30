package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewTokenBucket_Clamping(t *testing.T) {
	b := NewTokenBucket(0, 0, -time.Second)
	if b.capacity != 1 {
		t.Errorf("capacity = %v; want 1", b.capacity)
	}
	if b.refillPerSec != 0.001 {
		t.Errorf("refillPerSec = %v; want 0.001", b.refillPerSec)
	}
	if b.minSpacing != 0 {
		t.Errorf("minSpacing = %v; want 0", b.minSpacing)
	}
}

func TestTokenBucket_TokensNeverExceedCapacity(t *testing.T) {
	now := time.Now()
	b := NewTokenBucket(5, 100, 0)
	b.SetNowFunc(func() time.Time { return now })

	// A long idle period must not overfill the bucket.
	now = now.Add(time.Hour)
	if got := b.Tokens(); got != 5 {
		t.Errorf("Tokens() after idle = %v; want 5 (capacity)", got)
	}

	// Drain it; the count must never go negative.
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if got := b.Tokens(); got < 0 {
		t.Errorf("Tokens() after drain = %v; want >= 0", got)
	}
}

func TestTokenBucket_MinSpacingBetweenGrants(t *testing.T) {
	const spacing = 20 * time.Millisecond
	b := NewTokenBucket(10, 1000, spacing)
	ctx := context.Background()

	var grants []time.Time
	for i := 0; i < 4; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		grants = append(grants, time.Now())
	}

	// The observed gap may undershoot nominal spacing only by the jitter band.
	floor := time.Duration(float64(spacing) * (1 - DefaultJitter))
	for i := 1; i < len(grants); i++ {
		if gap := grants[i].Sub(grants[i-1]); gap < floor {
			t.Errorf("gap %d = %v; want >= %v", i, gap, floor)
		}
	}
}

func TestTokenBucket_AcquireHonorsContext(t *testing.T) {
	b := NewTokenBucket(1, 0.001, time.Hour)
	ctx := context.Background()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("second Acquire = %v; want context.DeadlineExceeded", err)
	}
}

func TestTokenBucket_ConcurrentCallersDoNotCorruptState(t *testing.T) {
	b := NewTokenBucket(100, 10000, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := b.Acquire(ctx); err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := b.Tokens(); got < 0 || got > 100 {
		t.Errorf("Tokens() = %v; want within [0, 100]", got)
	}
}

func TestJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := Jitter(base, 0.15)
		min := 85 * time.Millisecond
		max := 115 * time.Millisecond
		if got < min || got > max {
			t.Fatalf("Jitter(%v, 0.15) = %v; want between %v and %v", base, got, min, max)
		}
	}
	if got := Jitter(base, 0); got != base {
		t.Errorf("Jitter with zero fraction = %v; want %v", got, base)
	}
}
