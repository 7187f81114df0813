package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.OrderCache = (*RedisCache)(nil)

// RedisCache stores terminal order snapshots. Only terminal orders are cached
// because they never change again.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func key(id string) string { return "order:snapshot:" + id }

func (c *RedisCache) SetOrder(ctx context.Context, o *domain.Order) error {
	if o == nil || !o.Status.IsTerminal() {
		return nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(o.ID), b, c.ttl).Err()
}

func (c *RedisCache) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	b, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o domain.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
