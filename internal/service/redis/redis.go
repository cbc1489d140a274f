package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb *redis.Client
	}
)

func NewRedis(rdb *redis.Client) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

// IsNil reports whether err is the "key does not exist" reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}

func (r *RedisService) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, key).Result()
}

func (r *RedisService) SAdd(ctx context.Context, key string, members ...any) error {
	return r.rdb.SAdd(ctx, key, members...).Err()
}

func (r *RedisService) SRem(ctx context.Context, key string, members ...any) error {
	return r.rdb.SRem(ctx, key, members...).Err()
}

func (r *RedisService) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, key).Result()
}

func (r *RedisService) Publish(ctx context.Context, channel string, payload any) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the subscription to be confirmed before returning.
func (r *RedisService) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	ps := r.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}
