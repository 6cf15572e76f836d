// Package store provides EventStore implementations: in-memory, Redis,
// MongoDB and PostgreSQL.
//
// All backends enforce the same contract: per aggregate id, sequence numbers
// form a contiguous increasing run starting at 0, assigned at append time;
// an append whose expected base does not match the stream head fails with a
// sourcing.SequenceConflictError and writes nothing.
//
// Serializing backends (Redis, MongoDB, PostgreSQL) encode payloads with a
// codec.Codec (JSON by default) and rely on codec.RegisterType to decode
// payloads back into their concrete types.
//
// Basic usage:
//
//	es := store.NewMemory()
//
//	es := store.NewRedis(redisClient).WithCodec(codec.MsgPack{})
//
//	es := store.NewMongo(db.Collection("events"))
//	if err := es.EnsureIndexes(ctx); err != nil { ... }
//
//	es := store.NewPostgres(db)
package store

import (
	"context"

	"github.com/rbaliyan/sourcing"
)

// assignSequences stamps contiguous sequence numbers onto the events,
// starting at base.
func assignSequences(base uint64, events []*sourcing.Event) {
	for i, ev := range events {
		ev.Sequence = base + uint64(i)
	}
}

// sliceStream is a Stream over an already-materialized slice of events.
type sliceStream struct {
	events []*sourcing.Event
	cur    *sourcing.Event
	err    error
}

func (s *sliceStream) Next(ctx context.Context) bool {
	if s.err != nil || len(s.events) == 0 {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.cur = s.events[0]
	s.events = s.events[1:]
	return true
}

func (s *sliceStream) Event() *sourcing.Event {
	return s.cur
}

func (s *sliceStream) Err() error {
	return s.err
}

func (s *sliceStream) Close(ctx context.Context) error {
	s.events = nil
	return nil
}

// Compile-time check.
var _ sourcing.Stream = (*sliceStream)(nil)
