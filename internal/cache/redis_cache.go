package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokokasir/backend/internal/domain"
)

const itemKeyPrefix = "tokokasir:item:"

type RedisItemCache struct {
	client *redis.Client
}

func NewRedisItemCache(addr string, password string, db int) *RedisItemCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisItemCache{client: client}
}

func (c *RedisItemCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisItemCache) Close() error {
	return c.client.Close()
}

func itemKey(code string) string {
	return itemKeyPrefix + strings.ToUpper(strings.TrimSpace(code))
}

func (c *RedisItemCache) Get(ctx context.Context, code string) (*domain.Item, bool, error) {
	val, err := c.client.Get(ctx, itemKey(code)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.Item
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisItemCache) Set(ctx context.Context, item domain.Item, ttl time.Duration) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, itemKey(item.Code), payload, ttl).Err()
}
