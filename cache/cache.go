// Package cache provides aggregate snapshot caches: an in-process reference
// cache and a Redis-backed serialized cache.
//
// Both satisfy sourcing.Cache. The unit-of-work protocol only writes a cache
// after the root scope of a tree has committed, so implementations need
// nothing beyond last-writer-wins semantics; a stale entry from another
// process is caught by the event store's sequence check on the next save.
//
// Basic usage:
//
//	c := cache.NewMemory[*Order]()
//
//	c := cache.NewRedis(redisClient, newOrder).WithTTL(time.Hour)
//
//	repo, err := sourcing.NewRepository(es, bus, newOrder,
//	    sourcing.WithCache[*Order](c))
package cache

import (
	"context"
	"sync"

	"github.com/rbaliyan/sourcing"
)

// memoryEntry pairs a cached aggregate with the sequence it was cached at.
type memoryEntry[T sourcing.Aggregate] struct {
	agg T
	seq uint64
}

// Memory is an in-process cache holding live aggregate references. It is the
// fastest option for a single process; use the Redis cache when several
// processes share a store.
type Memory[T sourcing.Aggregate] struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry[T]
}

// NewMemory creates a new in-process aggregate cache.
func NewMemory[T sourcing.Aggregate]() *Memory[T] {
	return &Memory[T]{
		entries: make(map[string]memoryEntry[T]),
	}
}

// Get returns the cached aggregate and the sequence it was cached at.
func (c *Memory[T]) Get(ctx context.Context, id string) (T, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[id]
	if !ok {
		var zero T
		return zero, 0, false
	}
	return ent.agg, ent.seq, true
}

// Put stores the aggregate at the given sequence.
func (c *Memory[T]) Put(ctx context.Context, id string, snapshot T, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = memoryEntry[T]{agg: snapshot, seq: seq}
	return nil
}

// Evict removes the entry for id.
func (c *Memory[T]) Evict(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// Len returns the number of cached aggregates.
func (c *Memory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Compile-time check.
var _ sourcing.Cache[sourcing.Aggregate] = (*Memory[sourcing.Aggregate])(nil)
