package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the last observed price per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// StreamMessage is a single entry read from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes position lifecycle events to a durable, ordered stream
// and supports ephemeral fan-out for live consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides distributed rate limiting across engine instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Lock is a held distributed lock. The holder must renew it before the TTL
// lapses or the lock silently passes to the next acquirer.
type Lock interface {
	// Renew extends the lock's TTL. It returns ErrLockLost when the lock
	// has expired or is held by another party.
	Renew(ctx context.Context, ttl time.Duration) error
	// Release drops the lock. Safe to call multiple times.
	Release()
}

// LockManager provides distributed locking. The trade mode holds a lock for
// its lifetime so only one engine instance mutates positions at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
