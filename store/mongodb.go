package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
)

/*
MongoDB Schema:

Collection: sourcing_events (caller-supplied)

Document structure:
{
    "_id": string (event ID),
    "aggregate_id": string,
    "sequence": long,
    "type": string,
    "payload": Binary,
    "metadata": object (optional),
    "created_at": ISODate
}

Indexes (created by EnsureIndexes):
db.sourcing_events.createIndex({ "aggregate_id": 1, "sequence": 1 }, { unique: true })

The unique compound index is what makes appends safe under concurrency: two
appenders racing on the same expected base collide on the first inserted
document, so the loser writes nothing and the log stays contiguous.
*/

// mongoEvent is an event document in MongoDB.
type mongoEvent struct {
	ID          string            `bson:"_id"`
	AggregateID string            `bson:"aggregate_id"`
	Sequence    uint64            `bson:"sequence"`
	Type        string            `bson:"type"`
	Payload     []byte            `bson:"payload"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

// Mongo is a MongoDB-based event store.
type Mongo struct {
	col   *mongo.Collection
	codec codec.Codec
}

// NewMongo creates a new MongoDB event store on the given collection, using
// the JSON codec for payloads. Call EnsureIndexes once at startup.
func NewMongo(col *mongo.Collection) *Mongo {
	return &Mongo{
		col:   col,
		codec: codec.Default(),
	}
}

// WithCodec sets the payload codec.
func (s *Mongo) WithCodec(c codec.Codec) *Mongo {
	if c != nil {
		s.codec = c
	}
	return s
}

// EnsureIndexes creates the unique (aggregate_id, sequence) index the append
// path depends on.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// head returns the number of events stored for the aggregate.
func (s *Mongo) head(ctx context.Context, aggregateID string) (uint64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{"aggregate_id": aggregateID})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return uint64(n), nil
}

// Append inserts the events as an ordered batch. A duplicate key error means
// another writer holds the expected base: the first insert fails, nothing of
// this batch persists, and the caller gets a SequenceConflictError.
func (s *Mongo) Append(ctx context.Context, aggregateID string, expectedBase uint64, events []*sourcing.Event) error {
	if len(events) == 0 {
		return nil
	}

	head, err := s.head(ctx, aggregateID)
	if err != nil {
		return err
	}
	if head != expectedBase {
		return &sourcing.SequenceConflictError{
			AggregateID: aggregateID,
			Expected:    expectedBase,
			Actual:      head,
		}
	}

	// Stamp sequences for the documents; undo when the batch loses the race,
	// so a rejected batch is left untouched.
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
	docs := make([]any, 0, len(events))
	for _, ev := range events {
		payload, err := s.codec.Encode(ev.Payload)
		if err != nil {
			revert()
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		docs = append(docs, &mongoEvent{
			ID:          ev.ID,
			AggregateID: ev.AggregateID,
			Sequence:    ev.Sequence,
			Type:        ev.Type,
			Payload:     payload,
			Metadata:    ev.Metadata,
			CreatedAt:   ev.Timestamp,
		})
	}

	_, err = s.col.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			revert()
			actual, headErr := s.head(ctx, aggregateID)
			if headErr != nil {
				actual = expectedBase
			}
			return &sourcing.SequenceConflictError{
				AggregateID: aggregateID,
				Expected:    expectedBase,
				Actual:      actual,
			}
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// ReadStream returns a cursor-backed stream of the aggregate's events with
// sequence >= from, in ascending sequence order.
func (s *Mongo) ReadStream(ctx context.Context, aggregateID string, from uint64) (sourcing.Stream, error) {
	filter := bson.M{
		"aggregate_id": aggregateID,
		"sequence":     bson.M{"$gte": from},
	}
	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return &mongoStream{cur: cur, codec: s.codec}, nil
}

// mongoStream adapts a mongo cursor to sourcing.Stream.
type mongoStream struct {
	cur   *mongo.Cursor
	codec codec.Codec
	ev    *sourcing.Event
	err   error
}

func (s *mongoStream) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	if !s.cur.Next(ctx) {
		s.err = s.cur.Err()
		return false
	}
	var doc mongoEvent
	if err := s.cur.Decode(&doc); err != nil {
		s.err = fmt.Errorf("decode document: %w", err)
		return false
	}
	payload, err := sourcing.DecodePayload(s.codec, doc.Type, doc.Payload)
	if err != nil {
		s.err = err
		return false
	}
	s.ev = &sourcing.Event{
		ID:          doc.ID,
		Type:        doc.Type,
		AggregateID: doc.AggregateID,
		Sequence:    doc.Sequence,
		Timestamp:   doc.CreatedAt,
		Metadata:    doc.Metadata,
		Payload:     payload,
	}
	return true
}

func (s *mongoStream) Event() *sourcing.Event {
	return s.ev
}

func (s *mongoStream) Err() error {
	return s.err
}

func (s *mongoStream) Close(ctx context.Context) error {
	return s.cur.Close(ctx)
}

// Compile-time checks.
var (
	_ sourcing.EventStore = (*Mongo)(nil)
	_ sourcing.Stream     = (*mongoStream)(nil)
)
