// Package relay forwards committed events out of the process, to NATS or
// Kafka. It plugs into a repository's committed hook, so only events whose
// root unit of work actually committed ever leave the process.
//
// Delivery is best effort: a failed publish is logged and skipped, never
// surfaced back into the commit path. Systems that need stronger guarantees
// should consume the event store directly.
//
// Basic usage:
//
//	rl := relay.New(relay.NewNATSPublisher(nc),
//	    relay.WithSubjectPrefix("orders."),
//	    relay.WithRateLimit(500, 100))
//
//	repo, err := sourcing.NewRepository(es, bus, newOrder,
//	    sourcing.WithCommittedHook[*Order](rl.Forward))
package relay

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
)

// DefaultSubjectPrefix prefixes outgoing subjects/topics to avoid clashing
// with user data.
const DefaultSubjectPrefix = "sourcing."

// Publisher delivers one encoded event to an external system. The subject is
// the prefix plus the event type; the aggregate id is provided so brokers
// that partition by key can keep per-aggregate ordering.
type Publisher interface {
	Publish(ctx context.Context, subject, aggregateID string, data []byte) error
}

// relayOptions holds configuration for Relay (unexported).
type relayOptions struct {
	subjectPrefix string
	codec         codec.Codec
	logger        *slog.Logger
	limiter       *rate.Limiter
}

// Option option function for relay configuration.
type Option func(*relayOptions)

// WithSubjectPrefix sets the subject/topic prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(o *relayOptions) {
		o.subjectPrefix = prefix
	}
}

// WithCodec sets the event envelope codec.
func WithCodec(c codec.Codec) Option {
	return func(o *relayOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *relayOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRateLimit caps outgoing publishes at rps events per second with the
// given burst. Unlimited by default.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *relayOptions) {
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Relay encodes committed events and hands them to a Publisher, one at a
// time, in commit order.
type Relay struct {
	publisher     Publisher
	subjectPrefix string
	codec         codec.Codec
	logger        *slog.Logger
	limiter       *rate.Limiter
}

// New creates a relay over the given publisher.
func New(publisher Publisher, opts ...Option) *Relay {
	o := &relayOptions{
		subjectPrefix: DefaultSubjectPrefix,
		codec:         codec.Default(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Relay{
		publisher:     publisher,
		subjectPrefix: o.subjectPrefix,
		codec:         o.codec,
		logger:        o.logger.With("component", "sourcing.relay"),
		limiter:       o.limiter,
	}
}

// Forward publishes the events in order. It matches sourcing.CommittedHook,
// so it can be wired straight into a repository. Failures are logged and the
// remaining events still go out; a cancelled context stops the batch.
func (r *Relay) Forward(ctx context.Context, events []*sourcing.Event) {
	for _, ev := range events {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				r.logger.Warn("relay stopped mid-batch", "error", err)
				return
			}
		}
		data, err := sourcing.MarshalEvent(r.codec, ev)
		if err != nil {
			r.logger.Error("encode event failed", "event", ev.ID, "type", ev.Type, "error", err)
			continue
		}
		subject := r.subjectPrefix + ev.Type
		if err := r.publisher.Publish(ctx, subject, ev.AggregateID, data); err != nil {
			r.logger.Error("publish event failed", "event", ev.ID, "subject", subject, "error", err)
			continue
		}
		r.logger.Debug("event relayed", "event", ev.ID, "subject", subject)
	}
}

// Compile-time check.
var _ sourcing.CommittedHook = (*Relay)(nil).Forward
