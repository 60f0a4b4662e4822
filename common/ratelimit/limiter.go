// Package ratelimit counts requests per key in fixed windows. The Redis
// limiter shares counters across replicas; the memory limiter serves single
// instances and tests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed      bool
	CurrentCount int64
	Limit        int64
	RetryAfter   time.Duration
}

// Limiter checks and counts one request for key
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error)
}

// INCR the window counter, set its expiry on first use.
// Returns {count, pttl}.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisLimiter runs the window counter atomically in Redis
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	prefix string
	logger Logger
}

// NewRedisLimiter creates a limiter storing counters under prefix
func NewRedisLimiter(redisClient *redis.Client, prefix string, logger Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		script: redis.NewScript(fixedWindowScript),
		prefix: prefix,
		logger: logger,
	}
}

// Allow implements Limiter
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error) {
	fullKey := r.prefix + key
	raw, err := r.script.Run(ctx, r.redis, []string{fullKey}, window.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected script result %v", raw)
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected script result %v", raw)
	}

	return r.result(fullKey, count, limit, time.Duration(ttl)*time.Millisecond), nil
}

func (r *RedisLimiter) result(key string, count, limit int64, ttl time.Duration) *Result {
	res := &Result{Allowed: count <= limit, CurrentCount: count, Limit: limit}
	if !res.Allowed {
		res.RetryAfter = ttl
		r.logger.Warn("rate limit exceeded", "key", key, "current", count, "limit", limit, "retry_after", ttl)
	} else {
		r.logger.Debug("rate limit check passed", "key", key, "current", count, "limit", limit)
	}
	return res
}

// Reset clears the counter for key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.redis.Del(ctx, r.prefix+key).Err()
}

// MemoryLimiter keeps window counters in process
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow implements Limiter
func (m *MemoryLimiter) Allow(ctx context.Context, key string, limit int64, d time.Duration) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		m.windows[key] = w
		m.sweep(now)
	}
	w.count++

	res := &Result{Allowed: w.count <= limit, CurrentCount: w.count, Limit: limit}
	if !res.Allowed {
		res.RetryAfter = w.resetAt.Sub(now)
	}
	return res, nil
}

// sweep drops expired windows so idle keys do not accumulate
func (m *MemoryLimiter) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
