package domain

import (
	"context"
	"time"
)

// PoolCache provides fast read access to pool records.
type PoolCache interface {
	Set(ctx context.Context, pool Pool) error
	// Get returns ErrNotFound on a cache miss.
	Get(ctx context.Context, id PoolID) (Pool, error)
	Invalidate(ctx context.Context, id PoolID) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelPoolEvents     = "pool_events"
	StreamOracleRequests  = "oracle:requests"
	StreamOracleResponses = "oracle:responses"
)
