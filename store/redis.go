package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisStore keeps slots as plain Redis strings under "<namespace>:<slot>".
// A positive ttl is applied on every write.
type RedisStore struct {
	redis     redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisStore creates a store backed by rdb. The client is owned by the
// caller; Close does not close it.
func NewRedisStore(rdb redis.UniversalClient, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		redis:     rdb,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *RedisStore) Get(ctx context.Context, slot Slot) ([]byte, error) {
	data, err := s.redis.Get(ctx, Key(s.namespace, slot)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, slot Slot, value []byte) error {
	if len(value) == 0 {
		return s.Delete(ctx, slot)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, Key(s.namespace, slot), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, slot Slot) error {
	if err := s.redis.Del(ctx, Key(s.namespace, slot)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping reports the Redis round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) Close() error {
	return nil
}
