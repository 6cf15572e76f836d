package sourcing

import (
	"errors"
	"fmt"
)

// Sentinel errors.
// Use errors.Is() to check for these as they may be wrapped with additional
// context, or carried by the typed errors below.
var (
	// ErrInvalidState indicates a commit or rollback was attempted on a unit
	// of work that is not the active scope or is past its Started phase.
	ErrInvalidState = errors.New("invalid unit of work state")

	// ErrSequenceConflict indicates an optimistic concurrency violation: the
	// event store's head for the aggregate was not the expected base sequence.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrListenerFailure indicates one or more bus listeners failed while an
	// event was being published.
	ErrListenerFailure = errors.New("listener failure")

	// ErrNoUnitOfWork indicates a repository operation was attempted outside
	// an open unit of work.
	ErrNoUnitOfWork = errors.New("no active unit of work")

	// ErrAggregateNotFound indicates no events exist for the requested
	// aggregate id.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrDuplicateAggregate indicates an aggregate with the same id is
	// already registered in the current session.
	ErrDuplicateAggregate = errors.New("aggregate already registered")

	// ErrTypeMismatch indicates the session holds an aggregate of a different
	// type under the requested id.
	ErrTypeMismatch = errors.New("aggregate type mismatch")

	// ErrInvalidAggregateID indicates an empty aggregate id.
	ErrInvalidAggregateID = errors.New("aggregate id is empty")

	// ErrUnknownPayloadType indicates a stored payload type name that has not
	// been registered with codec.RegisterType.
	ErrUnknownPayloadType = errors.New("unknown payload type")

	// ErrStoreRequired is returned by NewRepository when no event store is given.
	ErrStoreRequired = errors.New("event store is required")

	// ErrBusRequired is returned by NewRepository when no event bus is given.
	ErrBusRequired = errors.New("event bus is required")

	// ErrFactoryRequired is returned by NewRepository when no factory is given.
	ErrFactoryRequired = errors.New("aggregate factory is required")
)

// InvalidStateError reports an operation attempted against a unit of work in
// the wrong phase or from the wrong scope. Reason, when set, names what made
// the state invalid beyond the phase itself.
type InvalidStateError struct {
	Op     string
	Phase  Phase
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s in phase %s: %s", ErrInvalidState, e.Op, e.Phase, e.Reason)
	}
	return fmt.Sprintf("%s: %s in phase %s", ErrInvalidState, e.Op, e.Phase)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// SequenceConflictError reports the aggregate and sequence numbers involved
// in an optimistic concurrency violation at append time.
type SequenceConflictError struct {
	AggregateID string
	Expected    uint64 // base sequence the appender believed was the head
	Actual      uint64 // the store's actual head
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict on aggregate %q: expected head %d, store head %d",
		e.AggregateID, e.Expected, e.Actual)
}

func (e *SequenceConflictError) Unwrap() error {
	return ErrSequenceConflict
}

// IsSequenceConflict checks if an error indicates an optimistic concurrency
// violation.
func IsSequenceConflict(err error) bool {
	return errors.Is(err, ErrSequenceConflict)
}

// ListenerError aggregates the failures of one publish step. Every listener
// for the event has already run by the time this error is returned; failing
// listeners never prevent the remaining listeners from being invoked.
type ListenerError struct {
	EventID     string
	AggregateID string
	Errors      []error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%d listener(s) failed for event %s (aggregate %q): %v",
		len(e.Errors), e.EventID, e.AggregateID, errors.Join(e.Errors...))
}

func (e *ListenerError) Unwrap() []error {
	return e.Errors
}

func (e *ListenerError) Is(target error) bool {
	return target == ErrListenerFailure
}
