// Package cache provides the best-effort entitlement read cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// ErrCacheMiss is returned by Get when no entry exists for the user.
var ErrCacheMiss = errors.New("cache: miss")

// EntitlementCache stores current entitlements in Redis with a TTL, so a
// missed invalidation self-heals.
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.EntitlementCache = (*EntitlementCache)(nil)

func NewEntitlementCache(addr, password string, db int) (*EntitlementCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &EntitlementCache{client: client, ttl: 5 * time.Minute}, nil
}

func entitlementKey(userID uuid.UUID) string {
	return "entitlement:" + userID.String()
}

func (c *EntitlementCache) Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	data, err := c.client.Get(ctx, entitlementKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var e domain.Entitlement
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *EntitlementCache) Set(ctx context.Context, e domain.Entitlement) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entitlementKey(e.UserID), data, c.ttl).Err()
}

func (c *EntitlementCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, entitlementKey(userID)).Err()
}

func (c *EntitlementCache) Close() error {
	return c.client.Close()
}
