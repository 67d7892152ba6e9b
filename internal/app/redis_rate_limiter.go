package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The counter for a window is created by the first hit, which also starts its expiry.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimitDecision is the state of one subject's window after a hit.
type RateLimitDecision struct {
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Allowed reports whether the hit fits inside the limit.
func (d RateLimitDecision) Allowed() bool {
	return d.Limit <= 0 || d.Count <= d.Limit
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d RateLimitDecision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RedisRateLimiter is a fixed-window limiter shared by every service replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisRateLimiter limits each subject to limit hits per window. Keys are
// "<prefix>:<scope>:<subject>".
func NewRedisRateLimiter(client redis.UniversalClient, prefix, scope string, limit int, window time.Duration) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "transfa:rate_limit"
	}
	if scope = strings.TrimSpace(scope); scope != "" {
		trimmedPrefix += ":" + scope
	}
	if window < time.Second {
		window = time.Second
	}

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

// Consume records one hit for subject.
func (r *RedisRateLimiter) Consume(ctx context.Context, subject string) (RateLimitDecision, error) {
	subject = strings.TrimSpace(subject)
	if r == nil || r.client == nil || r.limit <= 0 || subject == "" {
		return RateLimitDecision{}, nil
	}

	windowMs := r.window.Milliseconds()
	key := r.prefix + ":" + subject
	values, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return RateLimitDecision{}, err
	}
	if len(values) != 2 {
		return RateLimitDecision{}, fmt.Errorf("unexpected redis limiter reply of %d values", len(values))
	}

	ttlMs := values[1]
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	return RateLimitDecision{
		Count:      int(values[0]),
		Limit:      r.limit,
		RetryAfter: time.Duration(ttlMs) * time.Millisecond,
	}, nil
}
