package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func availabilityKey(inventoryID string) string {
	return "gemledger:avail:" + inventoryID
}

func suggestionKey(key string) string {
	return "gemledger:reorder:" + key
}

func (c *RedisCache) GetAvailability(ctx context.Context, inventoryID string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, availabilityKey(inventoryID)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	available, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return available, true, nil
}

func (c *RedisCache) SetAvailability(ctx context.Context, inventoryID string, available decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, availabilityKey(inventoryID), available.String(), ttl).Err()
}

func (c *RedisCache) InvalidateAvailability(ctx context.Context, inventoryIDs ...string) error {
	if len(inventoryIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(inventoryIDs))
	for _, id := range inventoryIDs {
		keys = append(keys, availabilityKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) GetSuggestions(ctx context.Context, key string) (*domain.ReorderSuggestionResponse, bool, error) {
	val, err := c.client.Get(ctx, suggestionKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.ReorderSuggestionResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisCache) SetSuggestions(ctx context.Context, key string, value *domain.ReorderSuggestionResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, suggestionKey(key), payload, ttl).Err()
}
