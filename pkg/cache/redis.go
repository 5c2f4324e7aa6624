package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces crawler entries within a shared Redis instance.
const keyPrefix = "fipe:cache:"

// RedisStore caches listings in Redis, for deployments where several
// crawler runs (or hosts) share one listing cache.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed listing cache. ttl of zero keeps
// entries forever; listings for a pinned reference are immutable, so an
// expiry is only needed to bound memory.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) redisKey(key Key) string {
	return keyPrefix + key.String()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			Misses.WithLabelValues("redis").Inc()
			return nil, ErrCacheMiss
		}
		Errors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	Hits.WithLabelValues("redis").Inc()
	return data, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key Key, data []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), data, s.ttl).Err(); err != nil {
		Errors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
