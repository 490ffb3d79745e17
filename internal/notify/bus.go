// Package notify carries user-facing notifications between the workflow,
// the wake dispatcher and the presentation layers.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventWakeStarted       = "wake_started"
	EventWakeSent          = "wake_sent"
	EventWakeFailed        = "wake_failed"
	EventPinState          = "pin_state"
	EventPinDone           = "pin_done"
	EventPinFailed         = "pin_failed"
	EventDirectoryReloaded = "directory_reloaded"
)

// Level is the severity shown to the operator.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one notification.
type Event struct {
	Type    string    `json:"type"`
	Level   Level     `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// Handler is a callback for events.
type Handler func(Event)

// Publisher is the sending side of the bus.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus provides pub/sub for notifications. Handlers are called in
// registration order, typed handlers before catch-all ones.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string][]subscription
	allHandlers []subscription
	nextID      uint64
	logger      *slog.Logger
	now         func() time.Time
}

// NewBus creates a new bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger.With("component", "notify"),
		now:      time.Now,
	}
}

// On registers a handler for one event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[eventType] = without(b.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (b *Bus) OnAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers = append(b.allHandlers, subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allHandlers = without(b.allHandlers, id)
	}
}

// without returns subs minus id. It never mutates the backing array, so
// snapshots taken by Publish stay valid.
func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish sends an event to all matching handlers. Handlers run
// synchronously; a panicking handler is recovered and logged.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = b.now()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	subs = append(subs, b.handlers[event.Type]...)
	subs = append(subs, b.allHandlers...)
	b.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("notification handler panic", "type", event.Type, "panic", r)
				}
			}()
			s.handler(event)
		}()
	}
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
