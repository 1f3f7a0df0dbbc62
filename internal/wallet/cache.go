package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const viewKeyPrefix = "balance_view:v1:"

// ErrCacheMiss indicates no cached view exists for the user.
var ErrCacheMiss = errors.New("balance view not cached")

// Cache stores balance projections. Writes happen only after a successful
// ledger read, so a cached view is always a real past state, never a guess.
type Cache interface {
	Get(ctx context.Context, userID string) (*View, error)
	Put(ctx context.Context, view *View, ttl time.Duration) error
}

// RedisCache keeps views in Redis as JSON with a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds the production projection cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the cached view, ErrCacheMiss when absent.
func (c *RedisCache) Get(ctx context.Context, userID string) (*View, error) {
	payload, err := c.client.Get(ctx, viewKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached view: %w", err)
	}
	var view View
	if err := json.Unmarshal(payload, &view); err != nil {
		return nil, fmt.Errorf("decode cached view: %w", err)
	}
	return &view, nil
}

// Put stores the view with the given TTL.
func (c *RedisCache) Put(ctx context.Context, view *View, ttl time.Duration) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	if err := c.client.Set(ctx, viewKeyPrefix+view.UserID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store view: %w", err)
	}
	return nil
}
