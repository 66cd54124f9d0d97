// Package eventbus delivers completion lifecycle events to in-process
// subscribers such as the telemetry notifier and the CLI trace printer.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"chatcore/internal/domain"
)

// matcher selects the events a subscription receives.
type matcher func(domain.Event) bool

type subscription struct {
	id      uint64
	match   matcher
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run in their own
// goroutine so a slow subscriber never stalls a completion round.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Publish fans out an event to every matching subscriber. Panicking handlers
// are recovered and logged. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	// The closed check and wg.Add happen under the read lock so Close cannot
	// start waiting between them.
	b.mu.RLock()
	if b.closed.Load() {
		b.mu.RUnlock()
		b.dropped.Add(1)
		return
	}
	matched := lo.Filter(b.subs, func(s subscription, _ int) bool { return s.match(event) })
	b.wg.Add(len(matched))
	b.mu.RUnlock()

	for _, sub := range matched {
		go b.run(ctx, event, sub)
	}
}

func (b *Bus) run(ctx context.Context, event domain.Event, sub subscription) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"chain_id", event.ChainID,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(func(e domain.Event) bool { return e.Type == eventType }, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(func(domain.Event) bool { return true }, handler)
}

// SubscribeChain registers a handler for the events of one call chain,
// optionally restricted to the given event types.
func (b *Bus) SubscribeChain(chainID string, handler domain.EventHandler, types ...domain.EventType) func() {
	return b.add(func(e domain.Event) bool {
		if e.ChainID != chainID {
			return false
		}
		return len(types) == 0 || lo.Contains(types, e.Type)
	}, handler)
}

func (b *Bus) add(match matcher, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, match: match, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = lo.Reject(b.subs, func(s subscription, _ int) bool { return s.id == id })
		})
	}
}

// Dropped returns the number of events published after Close.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	already := b.closed.Swap(true)
	b.mu.Unlock()
	if already {
		return
	}
	b.wg.Wait()
}
