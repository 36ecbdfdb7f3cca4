package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// DefaultPoolTTL bounds how long a cached pool may outlive a missed
// invalidation.
const DefaultPoolTTL = 30 * time.Second

// PoolCache implements domain.PoolCache with one JSON string per pool under
// pool:{id}.
type PoolCache struct {
	c   *Client
	ttl time.Duration
}

// NewPoolCache creates a PoolCache. A non-positive ttl uses DefaultPoolTTL.
func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &PoolCache{c: c, ttl: ttl}
}

func (pc *PoolCache) key(id domain.PoolID) string {
	return pc.c.Key("pool:" + id.Hex())
}

// Set stores pool with the cache TTL.
func (pc *PoolCache) Set(ctx context.Context, pool domain.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", pool.ID.Hex(), err)
	}
	if err := pc.c.rdb.Set(ctx, pc.key(pool.ID), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set pool %s: %w", pool.ID.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (pc *PoolCache) Get(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	data, err := pc.c.rdb.Get(ctx, pc.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Pool{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("redis: get pool %s: %w", id.Hex(), err)
	}

	var pool domain.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %s: %w", id.Hex(), err)
	}
	return pool, nil
}

// Invalidate drops the cached pool.
func (pc *PoolCache) Invalidate(ctx context.Context, id domain.PoolID) error {
	if err := pc.c.rdb.Del(ctx, pc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate pool %s: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
