package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

const holdKeyPrefix = "hold:"

// HoldRegistry mirrors pending-booking holds into Redis so expiry is
// enforced by the store's own TTL mechanism, independent of any process
// being alive. Postgres stays the source of truth for capacity; the
// registry only answers "is this hold still open".
type HoldRegistry struct {
	client *redis.Client
}

func NewHoldRegistry(client *redis.Client) *HoldRegistry {
	return &HoldRegistry{client: client}
}

func (r *HoldRegistry) Place(ctx context.Context, hold domain.Hold, ttl time.Duration) error {
	b, err := json.Marshal(hold)
	if err != nil {
		return fmt.Errorf("marshal hold: %w", err)
	}
	if err := r.client.Set(ctx, holdKeyPrefix+hold.BookingID, b, ttl).Err(); err != nil {
		return fmt.Errorf("place hold: %w", err)
	}
	return nil
}

// Get returns nil when the hold is absent, which callers treat as
// already-resolved (confirmed or passively expired), not as an error.
func (r *HoldRegistry) Get(ctx context.Context, bookingID string) (*domain.Hold, error) {
	b, err := r.client.Get(ctx, holdKeyPrefix+bookingID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get hold: %w", err)
	}
	var hold domain.Hold
	if err := json.Unmarshal(b, &hold); err != nil {
		return nil, fmt.Errorf("unmarshal hold: %w", err)
	}
	return &hold, nil
}

func (r *HoldRegistry) Remove(ctx context.Context, bookingID string) error {
	if err := r.client.Del(ctx, holdKeyPrefix+bookingID).Err(); err != nil {
		return fmt.Errorf("remove hold: %w", err)
	}
	return nil
}
