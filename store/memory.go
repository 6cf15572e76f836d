package store

import (
	"context"
	"sync"

	"github.com/rbaliyan/sourcing"
)

// Memory is an in-memory event store for testing and single-process use.
// Appends for all aggregates are serialized by one mutex; the optimistic
// head check still applies so behavior matches the durable backends.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]*sourcing.Event
}

// NewMemory creates a new in-memory event store.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string][]*sourcing.Event),
	}
}

// Append adds events to the aggregate's stream if its head matches
// expectedBase.
func (s *Memory) Append(ctx context.Context, aggregateID string, expectedBase uint64, events []*sourcing.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head := uint64(len(s.streams[aggregateID]))
	if head != expectedBase {
		return &sourcing.SequenceConflictError{
			AggregateID: aggregateID,
			Expected:    expectedBase,
			Actual:      head,
		}
	}
	assignSequences(expectedBase, events)
	s.streams[aggregateID] = append(s.streams[aggregateID], events...)
	return nil
}

// ReadStream returns the aggregate's events with sequence >= from.
func (s *Memory) ReadStream(ctx context.Context, aggregateID string, from uint64) (sourcing.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.streams[aggregateID]
	if from > uint64(len(all)) {
		from = uint64(len(all))
	}
	events := make([]*sourcing.Event, len(all)-int(from))
	copy(events, all[from:])
	return &sliceStream{events: events}, nil
}

// Len returns the number of events stored for the aggregate.
func (s *Memory) Len(aggregateID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[aggregateID])
}

// Compile-time check.
var _ sourcing.EventStore = (*Memory)(nil)
