// Package cache provides a small TTL cache used by the answer service.
// Entries carry the time they were stored so consumers can surface
// staleness. The interface is injected, never reached through a global.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	// Get unmarshals the cached value into dest. A miss returns ok=false
	// with no error.
	Get(ctx context.Context, key string, dest interface{}) (storedAt time.Time, ok bool, err error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type entry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string, dest interface{}) (time.Time, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return time.Time{}, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	if err := json.Unmarshal(e.Value, dest); err != nil {
		return time.Time{}, false, fmt.Errorf("cache decode value %s: %w", key, err)
	}
	return e.StoredAt, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	data, err := json.Marshal(entry{Value: raw, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}
