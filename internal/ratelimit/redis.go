package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore counts requests per key in fixed one-second windows, shared
// across replicas.
type RedisStore struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisStore constructs a RedisStore allowing limit requests per key
// per window.
func NewRedisStore(rdb *redis.Client, limit int, window time.Duration) *RedisStore {
	if window <= 0 {
		window = time.Second
	}
	return &RedisStore{rdb: rdb, limit: int64(limit), window: window, prefix: "ratelimit"}
}

// Allow increments the current window's counter and compares it to the
// limit.
func (s *RedisStore) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / int64(s.window)
	redisKey := fmt.Sprintf("%s:%s:%d", s.prefix, key, bucket)

	pipe := s.rdb.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return count.Val() <= s.limit, nil
}
