package ratelimit

import (
	"context"
	"strconv"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/redis/go-redis/v9"
)

// boundedIncr increments KEYS[1] unless that would pass ARGV[1] (0 = unbounded)
// and sets the TTL on first write. Returns -1 when refused.
var boundedIncr = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit > 0 and current + 1 > limit then
  return -1
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// RedisBackend keeps buckets and markers in redis.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient builds a client from the rate limit config.
func NewRedisClient(cfg models.RateLimitConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: "ratelimit:"}
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func (b *RedisBackend) Increment(ctx context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int64, error) {
	n, err := boundedIncr.Run(ctx, b.rdb, []string{b.prefix + rowKey(key, windowStart)}, limit, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.WrapRetryable(err, errors.ErrCodeDatabaseConnection, "redis increment failed")
	}
	if n < 0 {
		return 0, ErrLimitExceeded
	}
	return n, nil
}

func (b *RedisBackend) Sum(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.prefix + k
	}
	values, err := b.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return 0, errors.WrapRetryable(err, errors.ErrCodeDatabaseConnection, "redis read failed")
	}

	var total int64
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

func (b *RedisBackend) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.rdb.SetNX(ctx, b.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, errors.WrapRetryable(err, errors.ErrCodeDatabaseConnection, "redis claim failed")
	}
	return ok, nil
}

func (b *RedisBackend) Release(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.prefix+key).Err(); err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeDatabaseConnection, "redis release failed")
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
