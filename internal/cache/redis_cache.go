package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tillbook/backend/internal/domain"
)

type RedisRateCache struct {
	client *redis.Client
}

func NewRedisRateCache(addr string, password string, db int) *RedisRateCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRateCache{client: client}
}

func (c *RedisRateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRateCache) Close() error {
	return c.client.Close()
}

func (c *RedisRateCache) Get(ctx context.Context, shopID string) (*domain.RateTable, bool, error) {
	val, err := c.client.Get(ctx, rateKey(shopID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var table domain.RateTable
	if err := json.Unmarshal(val, &table); err != nil {
		return nil, false, err
	}
	return &table, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, table *domain.RateTable, ttl time.Duration) error {
	if table == nil {
		return nil
	}
	payload, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rateKey(table.ShopID), payload, ttl).Err()
}

func (c *RedisRateCache) Invalidate(ctx context.Context, shopID string) error {
	return c.client.Del(ctx, rateKey(shopID)).Err()
}
