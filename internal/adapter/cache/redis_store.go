package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the transient stores (JWKS cache, handoff payloads) with
// Redis. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed transient store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value at key, or (nil, nil) when the key is absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return value, nil
}

// Set stores value under key for ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// GetDel atomically reads and removes key. Under concurrent redemption only
// one caller observes the value; the rest get (nil, nil).
func (s *RedisStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("cache getdel: %w", err)
	}
	return value, nil
}
