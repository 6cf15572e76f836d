package sourcing

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/rbaliyan/sourcing/codec"
)

// NewID generates a new unique ID.
func NewID() string {
	u, err := uuid.NewRandom()
	if err != nil {
		return ""
	}
	return u.String()
}

// Event is a domain event: one fact recorded against one aggregate.
// Events are immutable once appended to an event store; Sequence is assigned
// by the store at append time and forms a contiguous run starting at 0 per
// aggregate id.
type Event struct {
	// ID is the globally unique event id.
	ID string

	// Type is the payload type name, taken from the codec type registry at
	// record time. Serializing stores use it to decode the payload back into
	// its concrete type.
	Type string

	// AggregateID identifies the aggregate this event belongs to.
	AggregateID string

	// Sequence is the position of the event in its aggregate's stream.
	Sequence uint64

	// Timestamp is the UTC time the event was recorded.
	Timestamp time.Time

	// Metadata carries optional transport/context baggage.
	Metadata map[string]string

	// Payload is the domain-specific event body.
	Payload any
}

func (e *Event) String() string {
	return fmt.Sprintf("%s(%s@%d) %s", e.Type, e.AggregateID, e.Sequence, e.ID)
}

// eventRecord is the wire envelope shared by serializing stores and relays.
type eventRecord struct {
	ID          string            `json:"id" msgpack:"id"`
	Type        string            `json:"type" msgpack:"type"`
	AggregateID string            `json:"aggregate_id" msgpack:"aggregate_id"`
	Sequence    uint64            `json:"sequence" msgpack:"sequence"`
	Timestamp   time.Time         `json:"timestamp" msgpack:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Payload     []byte            `json:"payload" msgpack:"payload"`
}

// MarshalEvent encodes an event, payload included, with the given codec.
// The payload type must be registered with codec.RegisterType for the result
// to be decodable again.
func MarshalEvent(c codec.Codec, ev *Event) ([]byte, error) {
	payload, err := c.Encode(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload %q: %w", ev.Type, err)
	}
	return c.Encode(&eventRecord{
		ID:          ev.ID,
		Type:        ev.Type,
		AggregateID: ev.AggregateID,
		Sequence:    ev.Sequence,
		Timestamp:   ev.Timestamp,
		Metadata:    ev.Metadata,
		Payload:     payload,
	})
}

// UnmarshalEvent decodes an event previously encoded with MarshalEvent.
func UnmarshalEvent(c codec.Codec, data []byte) (*Event, error) {
	var rec eventRecord
	if err := c.Decode(data, &rec); err != nil {
		return nil, fmt.Errorf("decode event record: %w", err)
	}
	payload, err := DecodePayload(c, rec.Type, rec.Payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          rec.ID,
		Type:        rec.Type,
		AggregateID: rec.AggregateID,
		Sequence:    rec.Sequence,
		Timestamp:   rec.Timestamp,
		Metadata:    rec.Metadata,
		Payload:     payload,
	}, nil
}

// DecodePayload decodes payload bytes into a fresh value of the type
// registered under typeName, returning the value (not a pointer to it).
func DecodePayload(c codec.Codec, typeName string, data []byte) (any, error) {
	target, ok := codec.NewPayload(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadType, typeName)
	}
	if err := c.Decode(data, target); err != nil {
		return nil, fmt.Errorf("decode payload %q: %w", typeName, err)
	}
	return reflect.ValueOf(target).Elem().Interface(), nil
}
