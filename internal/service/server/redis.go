package server

import (
	"context"
	"encoding/json"
	"sort"

	"boxchat/internal/service/redis"
	"boxchat/internal/utils/log"

	"go.uber.org/zap"
)

const (
	onlineKey     = "boxchat:online"
	eventsChannel = "boxchat:events"
)

// RedisBroker shares presence and fan-out between relay instances through
// a redis set and a pub/sub channel.
type RedisBroker struct {
	redisService *redis.RedisService
}

func NewRedisBroker(redisSvc *redis.RedisService) *RedisBroker {
	return &RedisBroker{redisService: redisSvc}
}

func (b *RedisBroker) Join(ctx context.Context, userID string) error {
	return b.redisService.SAdd(ctx, onlineKey, userID)
}

func (b *RedisBroker) Leave(ctx context.Context, userID string) error {
	return b.redisService.SRem(ctx, onlineKey, userID)
}

func (b *RedisBroker) Online(ctx context.Context) ([]string, error) {
	ids, err := b.redisService.SMembers(ctx, onlineKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.redisService.Publish(ctx, eventsChannel, data)
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ps, err := b.redisService.Subscribe(ctx, eventsChannel)
	if err != nil {
		return nil, err
	}

	out := make(chan Envelope, 256)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					log.Error("unmarshal envelope failed", zap.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.redisService.Close()
}
