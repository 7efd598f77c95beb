package events

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"unsafe"
)

// Bus is the in-memory topic-keyed publish/subscribe hub.
//
// Thread safety:
//   - All methods are safe for concurrent use.
//   - The mutex protects only the subscriber table, never handler execution,
//     so a blocked handler cannot stall Subscribe or Publish.
//
// Failure semantics:
//   - A panicking handler is recovered and reported through the error
//     handler; it never affects the publisher or sibling handlers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]handlerEntry
	handlers    sync.WaitGroup
	closed      bool
	options     *busOptions
}

// handlerEntry pairs a handler with its identity key.
type handlerEntry struct {
	key handlerKey
	fn  Handler
}

// handlerKey identifies a handler function value: the code pointer plus the
// function value's data word. The code pointer alone is not enough, because
// method values bound to different receivers, and closures built from the
// same literal with different captures, share code but are distinct
// handlers.
type handlerKey [2]uintptr

// keyFor derives the identity key for a handler. The entry retains the
// handler itself, so the data word cannot be recycled while the
// subscription is live.
func keyFor(handler Handler) handlerKey {
	iface := any(handler)
	word := (*[2]uintptr)(unsafe.Pointer(&iface))[1]
	return handlerKey{reflect.ValueOf(handler).Pointer(), word}
}

// busOptions holds configuration for Bus.
type busOptions struct {
	logger       *slog.Logger
	errorHandler ErrorHandler
	metrics      MetricsRecorder
}

// ErrorHandler is called when a handler panics during dispatch.
// The context map carries the topic and handler identity.
type ErrorHandler func(err error, context map[string]any)

// MetricsRecorder records metrics about bus operations.
// Implementations can forward to OpenTelemetry, Prometheus, etc.
type MetricsRecorder interface {
	// RecordPublish is called once per publish with the number of handlers
	// the event was dispatched to.
	RecordPublish(topic string, handlerCount int)

	// RecordHandlerPanic is called when a handler panics.
	RecordHandlerPanic(topic string)

	// RecordSubscriberAdded is called when a new subscription is registered.
	RecordSubscriberAdded(topic string)

	// RecordSubscriberRemoved is called when a subscription is removed.
	RecordSubscriberRemoved(topic string)
}

// Option is a functional option for configuring Bus.
type Option func(*busOptions)

// WithLogger sets the logger used for dispatch diagnostics.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(opts *busOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithErrorHandler sets the handler invoked when a subscriber panics.
// Default: log via the bus logger.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(opts *busOptions) {
		if handler != nil {
			opts.errorHandler = handler
		}
	}
}

// WithMetrics sets the metrics recorder for bus operations.
// Default: no-op recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(opts *busOptions) {
		if recorder != nil {
			opts.metrics = recorder
		}
	}
}

// NewBus creates a new Bus with the given options.
//
// Example:
//
//	bus := events.NewBus(events.WithLogger(logger))
//	defer bus.Close()
func NewBus(opts ...Option) *Bus {
	options := &busOptions{
		logger:  slog.Default(),
		metrics: noopMetricsRecorder{},
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Bus{
		subscribers: make(map[Topic][]handlerEntry),
		options:     options,
	}
}

// Subscribe registers handler for topic. Registering the same handler value
// twice for one topic is a no-op after the first registration; hold on to
// the value when you need to unsubscribe or re-subscribe later, because
// re-evaluating a method value or a function literal produces a distinct
// value and therefore a distinct subscription. A nil handler is ignored.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	if handler == nil {
		return
	}

	key := keyFor(handler)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, entry := range b.subscribers[topic] {
		if entry.key == key {
			return
		}
	}

	b.subscribers[topic] = append(b.subscribers[topic], handlerEntry{key: key, fn: handler})
	b.options.metrics.RecordSubscriberAdded(string(topic))
}

// Unsubscribe removes the registration of handler for topic. It silently
// succeeds if the handler or topic is unknown.
func (b *Bus) Unsubscribe(topic Topic, handler Handler) {
	if handler == nil {
		return
	}

	key := keyFor(handler)

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subscribers[topic]
	for i, entry := range entries {
		if entry.key == key {
			b.subscribers[topic] = append(entries[:i:i], entries[i+1:]...)
			if len(b.subscribers[topic]) == 0 {
				delete(b.subscribers, topic)
			}
			b.options.metrics.RecordSubscriberRemoved(string(topic))
			return
		}
	}
}

// Publish delivers payload to every handler currently registered for topic.
//
// The handler list is snapshotted under a short-lived read lock; each handler
// then runs on its own goroutine. Publish returns without waiting for any
// handler to finish. Publishing to a topic with no subscribers is a no-op.
//
// The same payload map is passed to every handler of one publish; handlers
// must treat it as read-only.
//
// Returns an error only if the bus has been closed.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload Payload) error {
	b.mu.RLock()

	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}

	entries := b.subscribers[topic]
	snapshot := make([]handlerEntry, len(entries))
	copy(snapshot, entries)

	// Register in-flight work before releasing the lock so Close cannot
	// miss goroutines spawned by a concurrent publish.
	b.handlers.Add(len(snapshot))
	b.mu.RUnlock()

	for _, entry := range snapshot {
		go b.dispatch(ctx, topic, entry, payload)
	}

	if len(snapshot) > 0 {
		b.options.metrics.RecordPublish(string(topic), len(snapshot))
	}

	return nil
}

// dispatch runs one handler invocation, isolating panics from the publisher
// and from sibling handlers of the same publish.
func (b *Bus) dispatch(ctx context.Context, topic Topic, entry handlerEntry, payload Payload) {
	defer b.handlers.Done()
	defer func() {
		if r := recover(); r != nil {
			b.options.metrics.RecordHandlerPanic(string(topic))
			err := fmt.Errorf("handler panic: %v", r)
			if b.options.errorHandler != nil {
				b.options.errorHandler(err, map[string]any{
					"topic":   string(topic),
					"handler": fmt.Sprintf("0x%x", entry.key[0]),
				})
				return
			}
			b.options.logger.Error("event handler panicked",
				"topic", string(topic),
				"handler", fmt.Sprintf("0x%x", entry.key[0]),
				"panic", r,
			)
		}
	}()

	entry.fn(ctx, payload)
}

// Clear atomically discards every subscription for every topic.
// In-flight handler goroutines are unaffected.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[Topic][]handlerEntry)
}

// Drain blocks until all outstanding handler goroutines have finished or
// ctx is done, whichever comes first.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// Close marks the bus closed, discards all subscriptions, and waits for
// outstanding handler goroutines to finish. After Close returns, Publish
// returns an error. Close is idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Topic][]handlerEntry)
	b.mu.Unlock()

	b.handlers.Wait()
	return nil
}

// SubscriberCount returns the number of handlers registered for topic.
// Useful for monitoring and testing.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// noopMetricsRecorder is the default metrics recorder that does nothing.
type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordPublish(topic string, handlerCount int) {}
func (noopMetricsRecorder) RecordHandlerPanic(topic string)              {}
func (noopMetricsRecorder) RecordSubscriberAdded(topic string)           {}
func (noopMetricsRecorder) RecordSubscriberRemoved(topic string)         {}
