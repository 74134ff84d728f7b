package rediscache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

type IdempotencyCache struct {
	rdb *redis.Client
}

var _ ports.IdempotencyCache = (*IdempotencyCache)(nil)

func NewIdempotencyCache(rdb *redis.Client) *IdempotencyCache {
	return &IdempotencyCache{rdb: rdb}
}

func (c *IdempotencyCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (c *IdempotencyCache) Remember(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, "1", ttl).Err()
}
