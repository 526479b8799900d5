package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/redis/go-redis/v9"
)

// Backend performs an atomic check-and-increment for one key.
type Backend interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// StoreBackend runs the fixed-window step inside the store's
// read-modify-write, so atomicity is whatever the store guarantees
// (row lock for Postgres, process mutex for the local store).
type StoreBackend struct {
	repo database.RateLimitRepository
}

func NewStoreBackend(repo database.RateLimitRepository) *StoreBackend {
	return &StoreBackend{repo: repo}
}

func (b *StoreBackend) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	var result Result
	_, err := b.repo.UpdateRateLimit(ctx, key, func(current *database.RateLimitRecord) (*database.RateLimitRecord, error) {
		next, r := Apply(current, now, limit, window)
		result = r
		return next, nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// fixedWindowScript keeps {count, window_start} in a hash. The window is
// anchored at the first admitted call, not at a clock-aligned slot.
var fixedWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
local start = tonumber(redis.call("HGET", KEYS[1], "window_start") or "0")
if count <= 0 or now - start >= window then
  redis.call("HSET", KEYS[1], "count", 1, "window_start", now)
  redis.call("PEXPIRE", KEYS[1], window)
  return {1, 1, now}
end
if count < limit then
  count = redis.call("HINCRBY", KEYS[1], "count", 1)
  return {1, count, start}
end
return {0, count, start}
`)

// RedisBackend shares limiter state between instances through Redis.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBackend(client redis.UniversalClient, prefix string) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "showcase:ratelimit"
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	windowMs := window.Milliseconds()
	nowMs := now.UnixMilli()
	redisKey := fmt.Sprintf("%s:%s", b.prefix, key)

	res, err := fixedWindowScript.Run(ctx, b.client, []string{redisKey}, nowMs, windowMs, limit).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	admitted, count, start := res[0], int(res[1]), res[2]
	if admitted == 1 {
		return Result{Outcome: Allowed, Remaining: limit - count}, nil
	}

	retry := time.Duration(windowMs-(nowMs-start)) * time.Millisecond
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Result{Outcome: Refused, RetryAfter: retry}, nil
}
