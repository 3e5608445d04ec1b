package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// SentCounter is the SQL fallback the limiter uses when Redis is not
// configured or not reachable. The jobs store satisfies it.
type SentCounter interface {
	CountSentSince(ctx context.Context, companyID string, since time.Time) (int, error)
}

// Lua script for an atomic check-and-increment on one minute bucket.
// A plain GET then INCR pair would let two workers both pass the check
// at the limit boundary.
const minuteLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")

if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, 1)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// RateLimiter enforces a company's per-minute send limit. Counters
// live in Redis under one key per company per minute bucket; without
// Redis the limiter counts recent sent rows in Postgres instead, which
// is approximate under concurrency but never loses mail.
type RateLimiter struct {
	redis   *redis.Client
	script  *redis.Script
	counter SentCounter
}

// NewRateLimiter creates a limiter. client may be nil, in which case
// every check goes through the SQL counter.
func NewRateLimiter(client *redis.Client, counter SentCounter) *RateLimiter {
	return &RateLimiter{
		redis:   client,
		script:  redis.NewScript(minuteLimitLuaScript),
		counter: counter,
	}
}

// NewRateLimiterFromConfig connects to Redis when an address is
// configured and verifies the connection with a ping.
func NewRateLimiterFromConfig(cfg config.RedisConfig, counter SentCounter) (*RateLimiter, error) {
	if cfg.Addr == "" {
		return NewRateLimiter(nil, counter), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRateLimiter(client, counter), nil
}

// Allow reports whether one more send fits inside the company's
// per-minute limit, incrementing the counter when it does. A limit of
// zero or less means unlimited.
func (l *RateLimiter) Allow(ctx context.Context, companyID string, limit int, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if l.redis == nil {
		return l.allowFromSQL(ctx, companyID, limit, now)
	}

	key := fmt.Sprintf("ratelimit:company:%s:min:%d", companyID, now.Unix()/60)
	res, err := l.script.Run(ctx, l.redis, []string{key}, limit, 120).Result()
	if err != nil {
		logger.Warn("rate limiter falling back to sql counter",
			"companyId", companyID, "error", err.Error())
		return l.allowFromSQL(ctx, companyID, limit, now)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 1 {
		return false, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	allowed, ok := vals[0].(int64)
	if !ok {
		return false, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return allowed == 1, nil
}

func (l *RateLimiter) allowFromSQL(ctx context.Context, companyID string, limit int, now time.Time) (bool, error) {
	if l.counter == nil {
		return true, nil
	}
	sent, err := l.counter.CountSentSince(ctx, companyID, now.Add(-time.Minute))
	if err != nil {
		return false, err
	}
	return sent < limit, nil
}

// Redis exposes the underlying client, nil when not configured. The
// worker binary shares it with the recovery lock.
func (l *RateLimiter) Redis() *redis.Client {
	return l.redis
}

// Close releases the Redis connection when one exists.
func (l *RateLimiter) Close() error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Close()
}
