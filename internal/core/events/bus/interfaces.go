package bus

import (
	"context"
	"time"
)

// EventBus defines a thread-safe, in-process pub/sub event bus.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type() string.
// - Delivery is synchronous: Publish returns once every handler has run.
// - Handlers are isolated: a panic in one is recovered and reported as that
// handler's error, the others still run.
// - Error aggregation: multiple handler errors are joined and returned from Publish/PublishBatch.
// - Optional helpers: async publish, batch publish, pre-delivery filters.
// - Optional observability: metrics are produced only when observers are registered.
//
// All methods must be safe for concurrent use.
type EventBus interface {
	// Publish delivers the event to all active subscribers of event.Type().
	// If one or more handlers return an error, a joined error is returned.
	Publish(ctx context.Context, event Event) error
	// Subscribe registers a handler for a specific event type and returns a
	// Subscription handle that can be used to cancel later.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil; does nothing.
	Unsubscribe(Subscription) error

	// PublishWithFilters applies filters before delivery; if any filter returns false,
	// the event is dropped and not delivered to handlers.
	PublishWithFilters(ctx context.Context, event Event, filters ...EventFilter) error

	// PublishAsync publishes in a separate goroutine and returns a channel that will receive
	// a joined error (or nil) when delivery completes; then the channel is closed.
	PublishAsync(ctx context.Context, event Event) <-chan error
	// PublishBatch publishes a set of events sequentially and aggregates errors across them.
	PublishBatch(ctx context.Context, events ...Event) error

	// Subscribers reports how many handlers listen to eventType.
	Subscribers(eventType string) int

	// AddObserver registers an observer to receive metrics callbacks.
	AddObserver(obs EventBusObserver)
	// RemoveObserver unregisters a previously added observer.
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a best-effort snapshot of accumulated metrics. Metrics are only
	// collected when at least one observer is registered.
	GetMetrics() EventBusMetrics
}

// Event is an immutable message transported by the EventBus.
//
// Implementations should treat Event values as read-only.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	// EventHandler is a callback invoked per delivered event. If it returns an
	// error, Publish/PublishBatch aggregates and returns it.
	EventHandler func(ctx context.Context, event Event) error
	// EventFilter decides whether an event should be delivered. If any filter
	// returns false, the event is dropped silently.
	EventFilter func(event Event) bool
)

// Subscription represents a registered handler bound to an event type.
// Use Cancel or EventBus.Unsubscribe to stop receiving events.
type Subscription interface {
	ID() string
	EventType() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries and errors. Observers should
// return quickly.
type EventBusObserver interface {
	OnPublish(eventType string, event Event)
	OnDelivered(eventType string, handlers int, err error, durationMicros int64)
}

// EventBusMetrics is updated only when at least one observer is registered.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	Panics            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
}
