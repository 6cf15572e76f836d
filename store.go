package sourcing

import "context"

// EventStore is an append-only per-aggregate event log with optimistic
// sequencing. Implementations live in the store subpackage (Memory, Redis,
// Mongo, Postgres).
//
// Appenders for the same aggregate id are serialized by the store; appenders
// for different ids proceed independently.
type EventStore interface {
	// Append atomically appends events to the aggregate's stream, assigning
	// contiguous sequence numbers expectedBase, expectedBase+1, ... to the
	// given events (their Sequence fields are set in place).
	//
	// Fails with a SequenceConflictError if the store's current head for the
	// aggregate is not exactly expectedBase.
	Append(ctx context.Context, aggregateID string, expectedBase uint64, events []*Event) error

	// ReadStream returns the aggregate's events with sequence >= from, in
	// ascending sequence order. The stream is finite and restartable:
	// re-reading yields the same events plus any appended since.
	ReadStream(ctx context.Context, aggregateID string, from uint64) (Stream, error)
}

// Stream is a cursor over an aggregate's event log, in the style of a
// database cursor: call Next until it returns false, then check Err.
type Stream interface {
	// Next advances to the next event. It returns false when the stream is
	// exhausted or an error occurred.
	Next(ctx context.Context) bool

	// Event returns the current event. Only valid after a true Next.
	Event() *Event

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases resources held by the stream.
	Close(ctx context.Context) error
}
