package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTimeout bounds every backend round trip.
const RedisTimeout = 2 * time.Second

// RedisBackend stores values in Redis so several gateway instances can share
// one session.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the Redis server named by a redis:// URL.
func NewRedisBackend(rawURL string) (*RedisBackend, error) {
	if rawURL == "" {
		return nil, errors.New("redis store requires redis_url")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_url: %w", err)
	}
	return NewRedisBackendClient(redis.NewClient(opts)), nil
}

// NewRedisBackendClient wraps an existing client.
func NewRedisBackendClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Load(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), RedisTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisBackend) Save(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), RedisTimeout)
	defer cancel()
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisBackend) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), RedisTimeout)
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

// Close releases the underlying connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
