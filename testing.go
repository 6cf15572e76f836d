package sourcing

import (
	"context"
	"sync"
)

// RecordingListener captures every event delivered to it, in delivery order.
// Useful for asserting what a commit published.
//
// Example:
//
//	rec := sourcing.NewRecordingListener()
//	bus.Subscribe(rec.Listen)
//	// ... commit ...
//	events := rec.Events()
type RecordingListener struct {
	mu     sync.Mutex
	events []*Event
}

// NewRecordingListener creates a listener that records delivered events.
func NewRecordingListener() *RecordingListener {
	return &RecordingListener{}
}

// Listen records the event. It never fails.
func (l *RecordingListener) Listen(ctx context.Context, ev *Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

// Events returns a copy of all recorded events.
func (l *RecordingListener) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsFor returns recorded events for one aggregate id.
func (l *RecordingListener) EventsFor(aggregateID string) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Event
	for _, ev := range l.events {
		if ev.AggregateID == aggregateID {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards all recorded events.
func (l *RecordingListener) Reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}
