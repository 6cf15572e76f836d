package sourcing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
)

func TestMarshalEventRoundTrip(t *testing.T) {
	in := &sourcing.Event{
		ID:          sourcing.NewID(),
		Type:        "ledger.token_added",
		AggregateID: newLedgerID(),
		Sequence:    7,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Metadata:    map[string]string{"trace": sourcing.NewID()},
		Payload:     TokenAdded{Token: "42"},
	}

	for _, c := range []codec.Codec{codec.JSON{}, codec.MsgPack{}} {
		t.Run(c.ContentType(), func(t *testing.T) {
			data, err := sourcing.MarshalEvent(c, in)
			if err != nil {
				t.Fatalf("MarshalEvent: %v", err)
			}
			out, err := sourcing.UnmarshalEvent(c, data)
			if err != nil {
				t.Fatalf("UnmarshalEvent: %v", err)
			}
			if !out.Timestamp.Equal(in.Timestamp) {
				t.Errorf("timestamp drifted: got %v, want %v", out.Timestamp, in.Timestamp)
			}
			out.Timestamp = in.Timestamp
			if diff := cmp.Diff(in, out); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalEventUnknownType(t *testing.T) {
	c := codec.JSON{}
	in := &sourcing.Event{
		ID:          sourcing.NewID(),
		Type:        "ledger.token_added",
		AggregateID: newLedgerID(),
		Payload:     TokenAdded{Token: "x"},
	}
	data, err := sourcing.MarshalEvent(c, in)
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if _, err := sourcing.DecodePayload(c, "no.such.type", []byte(`{}`)); !errors.Is(err, sourcing.ErrUnknownPayloadType) {
		t.Errorf("expected ErrUnknownPayloadType, got %v", err)
	}
	// A registered type decodes back to the value type, not a pointer.
	out, err := sourcing.UnmarshalEvent(c, data)
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if _, ok := out.Payload.(TokenAdded); !ok {
		t.Errorf("payload decoded as %T, want TokenAdded", out.Payload)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := sourcing.NewID()
		if id == "" {
			t.Fatal("NewID returned empty string")
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
