package bus

import (
	"sync"
)

// Handler receives events published on a topic.
//
// Handlers are invoked synchronously, in subscription order, on the
// publisher's goroutine. Long-running work belongs in the handler's own
// goroutine.
type Handler func(topic string, payload any)

// Logger is the minimal logging interface the bus needs.
type Logger interface {
	Error(msg string, args ...any)
}

// Bus is a topic-based publish/subscribe fan-out for in-process events.
//
// Each handler invocation is panic-isolated: a panicking handler is logged
// and skipped, and the remaining handlers for that topic still run.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   Logger
}

// New creates an empty event bus.
func New(logger Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic.
//
// Multiple handlers may subscribe to the same topic; they are invoked in
// subscription order.
func (b *Bus) Subscribe(topic string, handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	b.mu.Unlock()
}

// Publish delivers an event to every handler subscribed to the topic.
//
// Delivery is synchronous. A handler panic is recovered and logged; it does
// not suppress delivery to the remaining handlers.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(topic, payload, h)
	}
}

// invoke runs a single handler with panic recovery.
func (b *Bus) invoke(topic string, payload any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("event handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}
	}()

	h(topic, payload)
}

// HandlerCount returns the number of handlers subscribed to a topic.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
