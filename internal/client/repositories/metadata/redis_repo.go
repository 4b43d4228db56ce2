package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps all values in one hash.
type RedisRepository struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{rdb: rdb, key: prefix + "metadata"}
}

func (r *RedisRepository) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.rdb.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return v, nil
}

func (r *RedisRepository) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.rdb.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context) (map[string][]byte, error) {
	m, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}
