package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository is the raw Redis surface the dedup cache needs.
type Repository interface {
	AddToSet(ctx context.Context, setKey, member string, ttl time.Duration) error
	IsSetMember(ctx context.Context, setKey, member string) (bool, error)
	SetKey(ctx context.Context, key string, ttl time.Duration) error
	KeyExists(ctx context.Context, key string) (bool, error)
}

type RedisRepository struct {
	client redis.UniversalClient
}

func NewRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

// AddToSet adds member and refreshes the TTL of the whole set.
func (r *RedisRepository) AddToSet(ctx context.Context, setKey, member string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, setKey, member)
	pipe.Expire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SADD %s failed: %w", setKey, err)
	}
	return nil
}

func (r *RedisRepository) IsSetMember(ctx context.Context, setKey, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, setKey, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis SISMEMBER %s failed: %w", setKey, err)
	}
	return ok, nil
}

func (r *RedisRepository) SetKey(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s failed: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s failed: %w", key, err)
	}
	return n > 0, nil
}
