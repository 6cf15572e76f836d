package sourcing

import (
	"fmt"
	"time"

	"github.com/rbaliyan/sourcing/codec"
)

// Aggregate is an event-sourced consistency boundary entity. Concrete
// aggregates embed Base and implement Apply with an explicit switch over
// their payload variants:
//
//	type Order struct {
//	    sourcing.Base
//	    Lines []Line `json:"lines"`
//	}
//
//	func (o *Order) Apply(ev *sourcing.Event) error {
//	    switch p := ev.Payload.(type) {
//	    case OrderCreated:
//	        // ...
//	    case LineAdded:
//	        o.Lines = append(o.Lines, p.Line)
//	    }
//	    return nil
//	}
//
// State changes go through Record, never by mutating fields directly; Apply
// must be a pure fold of one event into state, because it also runs during
// replay from the event store.
type Aggregate interface {
	// AggregateID returns the aggregate's opaque identity.
	AggregateID() string

	// Apply folds one event into the aggregate's state.
	Apply(ev *Event) error

	// base gives the library access to pending events and the baseline
	// sequence. Only Base implements it; embed Base to satisfy Aggregate.
	base() *Base
}

// Factory creates an empty aggregate ready for replay.
// It must not record any events.
type Factory[T Aggregate] func(id string) T

// Base carries the event-sourcing bookkeeping every aggregate needs:
// identity, the baseline sequence (count of events already durable), and the
// ordered list of pending events recorded since creation or load.
//
// All fields are unexported so snapshot codecs skip them; the repository
// restores identity and baseline out of band.
type Base struct {
	id       string
	baseline uint64
	pending  []*Event
}

// NewBase returns aggregate bookkeeping for the given id.
func NewBase(id string) Base {
	return Base{id: id}
}

// AggregateID returns the aggregate's identity.
func (b *Base) AggregateID() string {
	return b.id
}

// Baseline returns the next sequence number expected at append time, i.e.
// the number of events already durable for this aggregate.
func (b *Base) Baseline() uint64 {
	return b.baseline
}

// PendingEvents returns the ordered events recorded since creation or load
// that have not yet been appended to an event store.
func (b *Base) PendingEvents() []*Event {
	out := make([]*Event, len(b.pending))
	copy(out, b.pending)
	return out
}

func (b *Base) base() *Base {
	return b
}

func (b *Base) setID(id string) {
	b.id = id
}

func (b *Base) setBaseline(seq uint64) {
	b.baseline = seq
}

// markSaved clears the flushed pending events and advances the baseline.
func (b *Base) markSaved(n int) {
	b.pending = b.pending[n:]
	b.baseline += uint64(n)
}

// truncatePending drops pending events recorded after the given mark.
func (b *Base) truncatePending(mark int) {
	if mark < len(b.pending) {
		b.pending = b.pending[:mark]
	}
}

// Record creates a new domain event for the payload, folds it into the
// aggregate via Apply, and queues it for the next commit's saving phase.
// The event's sequence number is assigned later, at append time.
func Record(agg Aggregate, payload any) error {
	b := agg.base()
	if b.id == "" {
		return ErrInvalidAggregateID
	}
	ev := &Event{
		ID:          NewID(),
		Type:        codec.TypeName(payload),
		AggregateID: b.id,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
	if err := agg.Apply(ev); err != nil {
		return fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	b.pending = append(b.pending, ev)
	return nil
}
