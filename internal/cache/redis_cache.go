package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying connection so the same redis instance can
// back the cross-process writer lock.
func (c *RedisStockCache) Client() *redis.Client {
	return c.client
}

func stockKey(productID string, siteID string) string {
	return "stock:" + productID + ":" + siteID
}

func (c *RedisStockCache) Get(ctx context.Context, productID string, siteID string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, stockKey(productID, siteID)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	qty, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return qty, true, nil
}

func (c *RedisStockCache) Set(ctx context.Context, productID string, siteID string, qty decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, stockKey(productID, siteID), qty.String(), ttl).Err()
}

func (c *RedisStockCache) Invalidate(ctx context.Context, productID string, siteID string) error {
	return c.client.Del(ctx, stockKey(productID, siteID)).Err()
}
