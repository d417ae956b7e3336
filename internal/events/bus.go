// Package events fans execution change events out to subscribers, either in
// process or over a Redis pub/sub channel.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"labexec/internal/core"
	"labexec/pkg/domain"
)

// Bus publishes execution events and forwards them to local handlers.
type Bus interface {
	Publish(ctx context.Context, event domain.ExecutionEvent) error
	// StartForwarder calls onEvent for every event until ctx is done.
	StartForwarder(ctx context.Context, onEvent func(domain.ExecutionEvent)) error
	Close() error
}

// Driver names a bus implementation.
type Driver string

const (
	DriverNone   Driver = "none"
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

const defaultChannel = "labexec.executions"

// Options selects and configures a bus.
type Options struct {
	Driver    Driver
	RedisAddr string
	Channel   string
}

// Open builds the configured bus. DriverNone (or an empty driver) returns a
// nil bus, which the service treats as "do not publish".
func Open(ctx context.Context, opts Options, logger core.Logger) (Bus, error) {
	switch opts.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemoryBus(), nil
	case DriverRedis:
		if strings.TrimSpace(opts.RedisAddr) == "" {
			return nil, fmt.Errorf("redis address required for event driver %s", opts.Driver)
		}
		bus, err := DialRedis(ctx, opts.RedisAddr, opts.Channel, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown event driver %s", opts.Driver)
	}
}

// MemoryBus delivers events synchronously to in-process handlers. Handlers
// must not publish on the bus they are registered with.
type MemoryBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(domain.ExecutionEvent)
	closed   bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]func(domain.ExecutionEvent))}
}

// Publish implements core.EventPublisher.
func (b *MemoryBus) Publish(ctx context.Context, event domain.ExecutionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus closed")
	}
	for _, h := range b.handlers {
		h(event)
	}
	return nil
}

// StartForwarder registers onEvent until ctx is done.
func (b *MemoryBus) StartForwarder(ctx context.Context, onEvent func(domain.ExecutionEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus closed")
	}
	id := b.next
	b.next++
	b.handlers[id] = onEvent
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Close drops every handler and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(domain.ExecutionEvent))
	return nil
}

var (
	_ core.EventPublisher = (*MemoryBus)(nil)
	_ Bus                 = (*MemoryBus)(nil)
)
