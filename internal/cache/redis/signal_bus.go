package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

const (
	// defaultStreamMaxLen caps each stream when no limit is configured.
	defaultStreamMaxLen int64 = 10000
	// subscriberBuffer is the per-subscription backlog before the relay
	// blocks on a slow reader.
	subscriberBuffer = 128
	payloadField     = "payload"
)

// SignalBus fans decisions, revisions and fills out to other processes over
// Pub/Sub and keeps the decision history in a trimmed stream. Channel and
// stream names get the client's key prefix.
type SignalBus struct {
	c      *Client
	maxLen int64
}

// NewSignalBus returns a bus on c. maxLen <= 0 keeps about 10,000 entries
// per stream.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{c: c, maxLen: maxLen}
}

// Publish sends payload on channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.c.rdb.Publish(ctx, b.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on a pattern when it contains glob
// characters, and relays payloads until ctx ends. The returned channel is
// closed once the subscription is gone.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	join := b.c.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		join = b.c.rdb.PSubscribe
	}
	sub := join(ctx, b.c.Key(channel))
	// The first Receive returns the subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go relay(ctx, sub, out)
	return out, nil
}

func relay(ctx context.Context, sub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer sub.Close()
	in := sub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

// StreamAppend adds payload to stream with XADD MAXLEN ~ maxLen.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.c.Key(stream),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking.
// "0" reads from the start. An empty stream yields no entries and no error.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := b.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.c.Key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, entry := range s.Messages {
			if data, ok := entryPayload(entry); ok {
				out = append(out, domain.StreamMessage{ID: entry.ID, Payload: data})
			}
		}
	}
	return out, nil
}

// entryPayload extracts the payload field. Entries written by other tools
// without it are skipped.
func entryPayload(entry redis.XMessage) ([]byte, bool) {
	switch v := entry.Values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
