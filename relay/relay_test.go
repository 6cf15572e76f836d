package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
)

func init() {
	codec.RegisterType[audited]("relay.audited")
}

type audited struct {
	Actor string `json:"actor"`
}

type published struct {
	subject     string
	aggregateID string
	data        []byte
}

// fakePublisher captures publishes and can fail on selected subjects.
type fakePublisher struct {
	published []published
	failOn    string
}

func (p *fakePublisher) Publish(ctx context.Context, subject, aggregateID string, data []byte) error {
	if p.failOn != "" && subject == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, published{subject: subject, aggregateID: aggregateID, data: data})
	return nil
}

func makeEvent(aggregateID, token string) *sourcing.Event {
	return &sourcing.Event{
		ID:          sourcing.NewID(),
		Type:        "relay.audited",
		AggregateID: aggregateID,
		Payload:     audited{Actor: token},
	}
}

func TestRelayForwardsInOrder(t *testing.T) {
	pub := &fakePublisher{}
	rl := New(pub, WithSubjectPrefix("audit."))

	events := []*sourcing.Event{
		makeEvent("a", "one"),
		makeEvent("a", "two"),
		makeEvent("b", "three"),
	}
	rl.Forward(context.Background(), events)

	if len(pub.published) != 3 {
		t.Fatalf("published %d messages, want 3", len(pub.published))
	}
	for i, p := range pub.published {
		if p.subject != "audit.relay.audited" {
			t.Errorf("message %d subject = %q", i, p.subject)
		}
		if p.aggregateID != events[i].AggregateID {
			t.Errorf("message %d keyed by %q, want %q", i, p.aggregateID, events[i].AggregateID)
		}
		ev, err := sourcing.UnmarshalEvent(codec.Default(), p.data)
		if err != nil {
			t.Fatalf("message %d does not decode: %v", i, err)
		}
		if ev.ID != events[i].ID {
			t.Errorf("message %d is event %s, want %s", i, ev.ID, events[i].ID)
		}
	}
}

func TestRelayContinuesPastFailures(t *testing.T) {
	pub := &fakePublisher{failOn: DefaultSubjectPrefix + "relay.audited"}
	rl := New(pub)

	rl.Forward(context.Background(), []*sourcing.Event{
		makeEvent("a", "one"),
		{
			ID:          sourcing.NewID(),
			Type:        "relay.other",
			AggregateID: "a",
			Payload:     audited{Actor: "two"},
		},
	})
	// The first event's subject fails; the second still goes out.
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	if pub.published[0].subject != DefaultSubjectPrefix+"relay.other" {
		t.Errorf("surviving subject = %q", pub.published[0].subject)
	}
}

func TestRelayStopsOnCancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	rl := New(pub, WithRateLimit(1000, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rl.Forward(ctx, []*sourcing.Event{makeEvent("a", "one"), makeEvent("a", "two")})
	if len(pub.published) != 0 {
		t.Errorf("published %d messages on a cancelled context, want 0", len(pub.published))
	}
}
