package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sk-go/actioncore/service/dao"
)

// RedisKV implements dao.KV on top of a Redis client. Keys are prefixed with
// "<prefix>:<namespace>:" so that several deployments can share one instance.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a Redis-backed durable store. The connection is
// verified with a short ping so that misconfiguration surfaces at startup
// rather than on the first write.
func NewRedisKV(redisURL, prefix string) (*RedisKV, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if prefix == "" {
		prefix = "actioncore"
	}
	return &RedisKV{client: client, prefix: prefix}, nil
}

func (s *RedisKV) key(namespace, key string) string {
	return s.prefix + ":" + namespace + ":" + key
}

func (s *RedisKV) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(namespace, key), value, ttl).Err()
}

func (s *RedisKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, dao.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *RedisKV) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, s.key(namespace, key)).Err()
}

// Close releases the underlying client.
func (s *RedisKV) Close() error {
	return s.client.Close()
}

var _ dao.KV = (*RedisKV)(nil)
