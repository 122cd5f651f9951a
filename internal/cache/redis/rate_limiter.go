package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// Rate is a request budget per window.
type Rate struct {
	Limit  int
	Window time.Duration
}

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated by one Lua script, so every instance sharing the
// Redis shares the budget.
type RateLimiter struct {
	c             *Client
	slidingWindow *redis.Script

	mu       sync.RWMutex
	rates    map[string]Rate
	fallback Rate
}

// NewRateLimiter creates a RateLimiter. Wait uses fallback for keys with no
// configured rate.
func NewRateLimiter(c *Client, fallback Rate) *RateLimiter {
	if fallback.Limit <= 0 || fallback.Window <= 0 {
		fallback = Rate{Limit: 1, Window: time.Second}
	}
	return &RateLimiter{
		c:             c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		rates:         make(map[string]Rate),
		fallback:      fallback,
	}
}

// SetRate configures the budget Wait applies to key.
func (rl *RateLimiter) SetRate(key string, r Rate) {
	rl.mu.Lock()
	rl.rates[key] = r
	rl.mu.Unlock()
}

func (rl *RateLimiter) rate(key string) Rate {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if r, ok := rl.rates[key]; ok {
		return r
	}
	return rl.fallback
}

// Allow counts one request against key and reports whether it fits in
// limit per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.c.Underlying(),
		[]string{rl.c.Key("ratelimit:" + key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until key's configured rate admits one more request.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	r := rl.rate(key)
	for {
		allowed, err := rl.Allow(ctx, key, r.Limit, r.Window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w: %w", key, domain.ErrRateLimited, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
