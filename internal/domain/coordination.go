package domain

import (
	"context"
	"time"
)

// Names on the signal bus. Channels carry JSON payloads for live fan-out;
// the decision stream keeps a trimmed history of every tick decision.
const (
	ChannelDecision = "ch:decision"
	ChannelRevision = "ch:revision"
	ChannelFill     = "ch:fill"
	ChannelStatus   = "ch:status"
	ChannelBacktest = "ch:backtest"

	StreamDecisions = "stream:decisions"
)

// RateLimiter throttles per key across processes. The API middleware uses
// Allow with an explicit limit; the live executor uses Wait with the rate
// configured for its key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager grants exclusive leases, such as the one that keeps a single
// optimizer run per deployment. Acquire fails with ErrLockHeld when another
// holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one stream entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus links instances that share a deployment prefix.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
