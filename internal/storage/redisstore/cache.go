package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

const availabilityKeyPrefix = "availability:"

// AvailabilityCache is a strictly advisory read-through cache for slot
// availability. Mutations invalidate entries; nothing ever "corrects" a
// cached value in place.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

// Get returns nil on a miss.
func (c *AvailabilityCache) Get(ctx context.Context, key string) (*domain.Availability, error) {
	b, err := c.client.Get(ctx, availabilityKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var av domain.Availability
	if err := json.Unmarshal(b, &av); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &av, nil
}

func (c *AvailabilityCache) Set(ctx context.Context, key string, av domain.Availability) error {
	b, err := json.Marshal(av)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKeyPrefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, availabilityKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
