// Package eventbus provides a minimal in-process publish/subscribe bus used
// for cross-cutting signals (chain state changes, transaction completion,
// account lifecycle). Handlers for a topic are invoked in subscription order;
// Emit does not block on slow handlers beyond their own execution time.
package eventbus

import (
	"context"
	"sync"
)

// Topic identifies a class of events on the bus.
type Topic string

// Handler consumes a single event payload.
type Handler func(ctx context.Context, payload any)

// Bus fans events out to all handlers subscribed to a topic.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
	}
}

// On registers a handler for the given topic. Handlers are never
// deregistered; subscribe once during wiring.
func (b *Bus) On(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = append(b.handlers[topic], h)
}

// Emit delivers the payload to every handler subscribed to the topic,
// synchronously and in subscription order. Unknown topics are a no-op.
func (b *Bus) Emit(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, payload)
	}
}
