package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"labexec/internal/core"
	"labexec/pkg/domain"
)

// RedisBus publishes JSON-encoded events on a Redis channel.
type RedisBus struct {
	rdb     goredis.UniversalClient
	channel string
	logger  core.Logger
	owned   bool
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, channel string, logger core.Logger) (*RedisBus, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	bus := NewRedisBus(rdb, channel, logger)
	bus.owned = true
	return bus, nil
}

// NewRedisBus wraps an existing client. The caller keeps ownership of rdb.
func NewRedisBus(rdb goredis.UniversalClient, channel string, logger core.Logger) *RedisBus {
	if channel == "" {
		channel = defaultChannel
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: logger}
}

// Channel returns the pub/sub channel name.
func (b *RedisBus) Channel() string { return b.channel }

// Publish implements core.EventPublisher.
func (b *RedisBus) Publish(ctx context.Context, event domain.ExecutionEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and calls onEvent from a
// background goroutine until ctx is done.
func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(domain.ExecutionEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var event domain.ExecutionEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.logger.Warn("bad execution event payload", "channel", b.channel, "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}

// Close releases the client when the bus dialled it.
func (b *RedisBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.rdb.Close()
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

var _ Bus = (*RedisBus)(nil)
