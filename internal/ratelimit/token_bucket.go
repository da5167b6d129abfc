package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "media-derivatives:ratelimit"

	// MaxWait caps a single sleep inside Wait.
	MaxWait = 30 * time.Second
)

// takeScript refills the bucket for the time elapsed since the last call and
// then tries to take cost tokens. It returns {allowed, remaining, retry_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - ts) * refill_per_ms)

local allowed = 0
local retry_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_ms = math.ceil((cost - tokens) / refill_per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", KEYS[1], ttl_ms)

return {allowed, math.floor(tokens), retry_ms}
`)

// Decision is the outcome of a single token request.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisTokenBucket is a token bucket shared by every process that talks to
// the same Redis. Each subject gets its own bucket.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// NewRedisTokenBucket allows capacity requests per window for every subject,
// refilling continuously.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case capacity <= 0:
		return nil, errors.New("capacity must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	}

	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(1, window.Milliseconds())),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// Allow takes one token for subject.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.Take(ctx, subject, 1)
}

func (l *RedisTokenBucket) Take(ctx context.Context, subject string, cost int64) (Decision, error) {
	if cost < 1 || cost > l.capacity {
		return Decision{}, fmt.Errorf("cost %d outside 1..%d", cost, l.capacity)
	}

	values, err := takeScript.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("token bucket returned %d values", len(values))
	}

	return Decision{
		Allowed:    values[0] == 1,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// Wait blocks until subject is granted a token or ctx is done. Limiter
// errors are returned to the caller, which decides whether to fail open.
func (l *RedisTokenBucket) Wait(ctx context.Context, subject string) error {
	return wait(ctx, l.Allow, subject)
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func wait(ctx context.Context, allow func(context.Context, string) (Decision, error), subject string) error {
	for {
		decision, err := allow(ctx, subject)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}

		delay := min(max(decision.RetryAfter, time.Millisecond), MaxWait)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
