package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements the refill/debit critical section as a single
// atomic Lua evaluation so multiple processes can share one credential budget.
// KEYS[1]: bucket hash {tokens, last_refill, last_grant}
// ARGV: capacity, refill_per_sec, now_seconds, spacing_seconds (pre-jittered)
// Returns {allowed, retry_after_seconds}.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local spacing = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill', 'last_grant')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
local last_grant = tonumber(state[3])

if tokens == nil then
  tokens = capacity
  last_refill = now
  last_grant = 0
end

local elapsed = now - last_refill
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
  last_refill = now
end

local wait = 0
if tokens < 1 then
  wait = (1 - tokens) / refill
end
if last_grant > 0 then
  local gap = spacing - (now - last_grant)
  if gap > wait then
    wait = gap
  end
end

if wait <= 0 then
  tokens = tokens - 1
  redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill, 'last_grant', now)
  redis.call('EXPIRE', key, 600)
  return {1, '0'}
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill, 'last_grant', last_grant)
redis.call('EXPIRE', key, 600)
return {0, tostring(wait)}
`

// RedisBucket is a TokenBucket whose state lives in Redis, letting several
// processes that share one API key also share its request budget. Same
// grant condition as the in-memory bucket.
type RedisBucket struct {
	client       *redis.Client
	key          string
	capacity     int
	refillPerSec float64
	minSpacing   time.Duration
	jitter       float64
	script       *redis.Script
}

// NewRedisBucket verifies connectivity and returns a distributed limiter
// keyed by keyID. Clamping matches NewTokenBucket.
func NewRedisBucket(client *redis.Client, keyID string, capacity int, refillPerSec float64, minSpacing time.Duration) (*RedisBucket, error) {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerSec < 0.001 {
		refillPerSec = 0.001
	}
	if minSpacing < 0 {
		minSpacing = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return &RedisBucket{
		client:       client,
		key:          "torntrainer:bucket:" + keyID,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		minSpacing:   minSpacing,
		jitter:       DefaultJitter,
		script:       redis.NewScript(tokenBucketScript),
	}, nil
}

// Acquire blocks until the shared bucket grants a permit.
func (r *RedisBucket) Acquire(ctx context.Context) error {
	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		spacing := Jitter(r.minSpacing, r.jitter).Seconds()

		res, err := r.script.Run(ctx, r.client, []string{r.key},
			r.capacity, r.refillPerSec, now, spacing).Slice()
		if err != nil {
			return fmt.Errorf("limiter script: %w", err)
		}
		if len(res) != 2 {
			return fmt.Errorf("limiter script: unexpected reply %v", res)
		}
		allowed, _ := res[0].(int64)
		if allowed == 1 {
			return nil
		}

		wait := pollFloor
		if s, ok := res[1].(string); ok {
			if secs, err := strconv.ParseFloat(s, 64); err == nil {
				if d := time.Duration(secs * float64(time.Second)); d > wait {
					wait = d
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
