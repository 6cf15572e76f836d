package sourcing

import "context"

// Cache stores last-known-good aggregate snapshots keyed by id, together
// with the sequence number they were cached at.
//
// The unit-of-work protocol guarantees a cache write happens at most once
// per root commit, strictly after the entire tree has settled; a stale entry
// that slips in from another writer is caught by the event store's sequence
// conflict on the next save, not by locking. Implementations therefore only
// need last-writer-wins semantics.
type Cache[T Aggregate] interface {
	// Get returns the cached snapshot and the sequence it was cached at.
	// A miss (or an unusable entry) returns ok == false.
	Get(ctx context.Context, id string) (snapshot T, seq uint64, ok bool)

	// Put stores the snapshot at the given sequence, overwriting any
	// previous entry.
	Put(ctx context.Context, id string, snapshot T, seq uint64) error

	// Evict removes the entry for id, if present.
	Evict(ctx context.Context, id string) error
}

// NoCache is a Cache that never holds anything: every load replays the full
// event stream. Useful as a baseline and for aggregates too hot to cache.
type NoCache[T Aggregate] struct{}

// Get always misses.
func (NoCache[T]) Get(ctx context.Context, id string) (T, uint64, bool) {
	var zero T
	return zero, 0, false
}

// Put discards the snapshot.
func (NoCache[T]) Put(ctx context.Context, id string, snapshot T, seq uint64) error {
	return nil
}

// Evict does nothing.
func (NoCache[T]) Evict(ctx context.Context, id string) error {
	return nil
}
