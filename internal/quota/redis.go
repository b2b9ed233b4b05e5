package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncr refuses without incrementing once the limit is reached, and
// starts the window on the first increment only.
var checkAndIncr = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, current, ttl}
`)

// RedisCounter keeps quota counters in redis.
type RedisCounter struct {
	rdb redis.UniversalClient
}

func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, limit int64, window time.Duration) (Count, error) {
	vals, err := checkAndIncr.Run(ctx, c.rdb, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Count{}, fmt.Errorf("run quota script: %w", err)
	}
	if len(vals) != 3 {
		return Count{}, fmt.Errorf("quota script returned %d values", len(vals))
	}
	return Count{
		Allowed: vals[0] == 1,
		Used:    vals[1],
		TTL:     ttlFromMillis(vals[2]),
	}, nil
}

func (c *RedisCounter) Peek(ctx context.Context, key string) (Count, error) {
	pipe := c.rdb.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Count{}, fmt.Errorf("read quota: %w", err)
	}

	used, err := get.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Count{}, fmt.Errorf("parse quota: %w", err)
	}
	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return Count{Used: used, TTL: ttl}, nil
}

func ttlFromMillis(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
