package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
)

/*
Redis Schema:

Each aggregate's stream is one list:
- List: sourcing:stream:{aggregate_id} - encoded events in sequence order

Sequence numbers are list positions, so LLEN is the stream head and the
append script is atomic: scripts execute without interleaving, making the
head check and the pushes one unit.
*/

// appendScript checks the stream head and appends in one atomic step.
// Returns {1, last_sequence} on success, {0, head} on conflict.
var appendScript = redis.NewScript(`
local head = redis.call('LLEN', KEYS[1])
if head ~= tonumber(ARGV[1]) then
  return {0, head}
end
for i = 2, #ARGV do
  redis.call('RPUSH', KEYS[1], ARGV[i])
end
return {1, head + #ARGV - 1}
`)

// Redis is a Redis-based event store.
type Redis struct {
	client    redis.Cmdable
	keyPrefix string
	codec     codec.Codec
}

// NewRedis creates a new Redis event store with the default key prefix and
// JSON codec.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: "sourcing:stream:",
		codec:     codec.Default(),
	}
}

// WithKeyPrefix sets a custom key prefix.
func (s *Redis) WithKeyPrefix(prefix string) *Redis {
	s.keyPrefix = prefix
	return s
}

// WithCodec sets the payload codec.
func (s *Redis) WithCodec(c codec.Codec) *Redis {
	if c != nil {
		s.codec = c
	}
	return s
}

func (s *Redis) key(aggregateID string) string {
	return s.keyPrefix + aggregateID
}

// Append atomically appends events if the stream head matches expectedBase.
func (s *Redis) Append(ctx context.Context, aggregateID string, expectedBase uint64, events []*sourcing.Event) error {
	if len(events) == 0 {
		return nil
	}
	// The head check happens inside the script, but the events must carry
	// their sequence numbers before encoding. Undo the stamping when the
	// append does not go through, so a rejected batch is left untouched.
	prev := make([]uint64, len(events))
	for i, ev := range events {
		prev[i] = ev.Sequence
	}
	revert := func() {
		for i, ev := range events {
			ev.Sequence = prev[i]
		}
	}
	assignSequences(expectedBase, events)

	args := make([]any, 0, len(events)+1)
	args = append(args, expectedBase)
	for _, ev := range events {
		data, err := sourcing.MarshalEvent(s.codec, ev)
		if err != nil {
			revert()
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		args = append(args, data)
	}

	res, err := appendScript.Run(ctx, s.client, []string{s.key(aggregateID)}, args...).Result()
	if err != nil {
		revert()
		return fmt.Errorf("append script: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		revert()
		return fmt.Errorf("append script: unexpected reply %v", res)
	}
	if okFlag, _ := vals[0].(int64); okFlag != 1 {
		revert()
		head, _ := vals[1].(int64)
		return &sourcing.SequenceConflictError{
			AggregateID: aggregateID,
			Expected:    expectedBase,
			Actual:      uint64(head),
		}
	}
	return nil
}

// ReadStream returns the aggregate's events with sequence >= from.
func (s *Redis) ReadStream(ctx context.Context, aggregateID string, from uint64) (sourcing.Stream, error) {
	raw, err := s.client.LRange(ctx, s.key(aggregateID), int64(from), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	events := make([]*sourcing.Event, 0, len(raw))
	for _, data := range raw {
		ev, err := sourcing.UnmarshalEvent(s.codec, []byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode event for aggregate %q: %w", aggregateID, err)
		}
		events = append(events, ev)
	}
	return &sliceStream{events: events}, nil
}

// Compile-time check.
var _ sourcing.EventStore = (*Redis)(nil)
