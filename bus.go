package sourcing

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBusName is the name used for logging, metrics and tracing when no
// name is configured.
var DefaultBusName = "sourcing-bus"

// Listener handles one published event. Returning an error marks the
// enclosing commit's publish step as failed, but never prevents the
// remaining listeners from running.
//
// Listeners run synchronously on the publisher's goroutine and may open
// nested units of work with Open(ctx); those scopes nest under the scope
// whose commit triggered the publish.
type Listener func(ctx context.Context, ev *Event) error

// busOptions holds configuration for Bus (unexported).
type busOptions struct {
	name            string
	logger          *slog.Logger
	tracingEnabled  bool
	recoveryEnabled bool
	metricsEnabled  bool
}

// BusOption option function for bus configuration.
type BusOption func(*busOptions)

// WithBusName sets the bus name used in logs, metrics and spans.
func WithBusName(name string) BusOption {
	return func(o *busOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBusLogger sets a custom logger for the bus.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBusTracing enables/disables tracing for publishes on this bus.
func WithBusTracing(enabled bool) BusOption {
	return func(o *busOptions) {
		o.tracingEnabled = enabled
	}
}

// WithBusMetrics enables/disables metrics for this bus.
func WithBusMetrics(enabled bool) BusOption {
	return func(o *busOptions) {
		o.metricsEnabled = enabled
	}
}

// WithBusRecovery enables/disables panic recovery around listeners.
// Recovery should stay enabled outside of tests; a recovered panic is
// reported as a listener failure.
func WithBusRecovery(enabled bool) BusOption {
	return func(o *busOptions) {
		o.recoveryEnabled = enabled
	}
}

func newBusOptions(opts ...BusOption) *busOptions {
	o := &busOptions{
		name:            DefaultBusName,
		logger:          slog.Default(),
		tracingEnabled:  true,
		recoveryEnabled: true,
		metricsEnabled:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type subscription struct {
	id string
	fn Listener
}

// Bus is a synchronous publish/subscribe fan-out. Publish dispatches to
// every current subscriber, in subscription order, on the calling
// goroutine; there is no queueing and no delivery concurrency in this core.
//
// A failing listener does not stop the remaining listeners; failures are
// aggregated into a ListenerError returned once all listeners for the event
// have run.
type Bus struct {
	name            string
	logger          *slog.Logger
	tracingEnabled  bool
	recoveryEnabled bool
	metricsEnabled  bool

	mu   sync.RWMutex
	subs []subscription
}

// NewBus creates a synchronous event bus.
func NewBus(opts ...BusOption) *Bus {
	o := newBusOptions(opts...)
	return &Bus{
		name:            o.name,
		logger:          o.logger.With("component", "bus>"+o.name),
		tracingEnabled:  o.tracingEnabled,
		recoveryEnabled: o.recoveryEnabled,
		metricsEnabled:  o.metricsEnabled,
	}
}

// Name returns the bus name.
func (b *Bus) Name() string {
	return b.name
}

// Subscribe registers a listener and returns its subscription id.
// Listeners are invoked in subscription order.
func (b *Bus) Subscribe(l Listener) string {
	id := NewID()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, fn: l})
	b.mu.Unlock()

	if b.metricsEnabled {
		meter := otel.Meter(b.name)
		subscribed, _ := meter.Int64Counter("event.subscribed",
			metric.WithDescription("Total number of subscriptions"))
		subscribed.Add(context.Background(), 1)
	}
	b.logger.Debug("subscribed listener", "subscription", id)
	return id
}

// Unsubscribe removes a listener by its subscription id.
// Returns false if the id is unknown.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish dispatches the event synchronously to every subscriber present at
// the start of the call, in subscription order. Listeners subscribing during
// dispatch receive later events only.
//
// If any listener fails (or panics, with recovery enabled), Publish still
// runs the remaining listeners and then returns a *ListenerError aggregating
// every failure.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	if b.metricsEnabled {
		meter := otel.Meter(b.name)
		published, _ := meter.Int64Counter("event.published",
			metric.WithDescription("Total number of events published"))
		published.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Type)))
	}

	if b.tracingEnabled {
		tracer := otel.Tracer(b.name)
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("%s.publish", ev.Type),
			trace.WithAttributes(
				attribute.String("event.id", ev.ID),
				attribute.String("event.aggregate_id", ev.AggregateID),
				attribute.Int64("event.sequence", int64(ev.Sequence))),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	var errs []error
	for _, s := range subs {
		if err := b.dispatch(ctx, s, ev); err != nil {
			errs = append(errs, err)
			b.logger.Warn("listener failed",
				"event", ev.ID,
				"aggregate", ev.AggregateID,
				"subscription", s.id,
				"error", err)
		}
	}
	if len(errs) > 0 {
		if b.metricsEnabled {
			meter := otel.Meter(b.name)
			failed, _ := meter.Int64Counter("event.listener_failures",
				metric.WithDescription("Total number of listener failures"))
			failed.Add(ctx, int64(len(errs)), metric.WithAttributes(attribute.String("event", ev.Type)))
		}
		return &ListenerError{EventID: ev.ID, AggregateID: ev.AggregateID, Errors: errs}
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, s subscription, ev *Event) (err error) {
	if b.recoveryEnabled {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("listener panic",
					"event", ev.ID,
					"subscription", s.id,
					"panic", r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("listener panic: %v", r)
			}
		}()
	}
	return s.fn(ctx, ev)
}
