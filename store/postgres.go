package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
)

/*
PostgreSQL Schema:

CREATE TABLE sourcing_events (
    id           VARCHAR(36) PRIMARY KEY,
    aggregate_id VARCHAR(255) NOT NULL,
    sequence     BIGINT NOT NULL,
    event_type   VARCHAR(255) NOT NULL,
    payload      BYTEA NOT NULL,
    metadata     JSONB,
    created_at   TIMESTAMP NOT NULL DEFAULT NOW(),
    UNIQUE (aggregate_id, sequence)
);

CREATE INDEX idx_sourcing_events_aggregate ON sourcing_events(aggregate_id, sequence);
*/

// Postgres is a PostgreSQL-based event store.
type Postgres struct {
	db    *sql.DB
	table string
	codec codec.Codec
}

// NewPostgres creates a new PostgreSQL event store with the default table
// name and JSON codec.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:    db,
		table: "sourcing_events",
		codec: codec.Default(),
	}
}

// WithTable sets a custom table name.
func (s *Postgres) WithTable(table string) *Postgres {
	s.table = table
	return s
}

// WithCodec sets the payload codec.
func (s *Postgres) WithCodec(c codec.Codec) *Postgres {
	if c != nil {
		s.codec = c
	}
	return s
}

// Append inserts the events in one transaction. An advisory lock on the
// aggregate id serializes appenders, so the head check and the inserts are
// one unit; the UNIQUE constraint backstops the lock.
func (s *Postgres) Append(ctx context.Context, aggregateID string, expectedBase uint64, events []*sourcing.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggregateID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	var head uint64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE aggregate_id = $1`, s.table)
	if err := tx.QueryRowContext(ctx, query, aggregateID).Scan(&head); err != nil {
		return fmt.Errorf("query head: %w", err)
	}
	if head != expectedBase {
		return &sourcing.SequenceConflictError{
			AggregateID: aggregateID,
			Expected:    expectedBase,
			Actual:      head,
		}
	}

	assignSequences(expectedBase, events)
	insert := fmt.Sprintf(`
		INSERT INTO %s (id, aggregate_id, sequence, event_type, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.table)

	for _, ev := range events {
		payload, err := s.codec.Encode(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		var metadata []byte
		if len(ev.Metadata) > 0 {
			metadata, err = json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, insert,
			ev.ID,
			ev.AggregateID,
			ev.Sequence,
			ev.Type,
			payload,
			metadata,
			ev.Timestamp,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ReadStream returns the aggregate's events with sequence >= from, in
// ascending sequence order.
func (s *Postgres) ReadStream(ctx context.Context, aggregateID string, from uint64) (sourcing.Stream, error) {
	query := fmt.Sprintf(`
		SELECT id, sequence, event_type, payload, metadata, created_at
		FROM %s
		WHERE aggregate_id = $1 AND sequence >= $2
		ORDER BY sequence ASC
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, aggregateID, from)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*sourcing.Event
	for rows.Next() {
		var (
			id        string
			sequence  uint64
			eventType string
			payload   []byte
			metadata  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &sequence, &eventType, &payload, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := &sourcing.Event{
			ID:          id,
			Type:        eventType,
			AggregateID: aggregateID,
			Sequence:    sequence,
			Timestamp:   createdAt,
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		ev.Payload, err = sourcing.DecodePayload(s.codec, eventType, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return &sliceStream{events: events}, nil
}

// Compile-time check.
var _ sourcing.EventStore = (*Postgres)(nil)
