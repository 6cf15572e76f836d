package sourcing_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"syreclabs.com/go/faker"

	"github.com/rbaliyan/sourcing"
	"github.com/rbaliyan/sourcing/codec"
	"github.com/rbaliyan/sourcing/store"
)

func init() {
	faker.Seed(time.Now().UnixNano())
	codec.RegisterType[LedgerOpened]("ledger.opened")
	codec.RegisterType[TokenAdded]("ledger.token_added")
}

// LedgerOpened is the creation event of the test aggregate.
type LedgerOpened struct{}

// TokenAdded appends one token to the test aggregate.
type TokenAdded struct {
	Token string `json:"token"`
}

// Ledger collects tokens, one per event.
type Ledger struct {
	sourcing.Base
	Tokens []string `json:"tokens"`
}

func newLedger(id string) *Ledger {
	return &Ledger{Base: sourcing.NewBase(id)}
}

func (l *Ledger) Apply(ev *sourcing.Event) error {
	switch p := ev.Payload.(type) {
	case TokenAdded:
		l.Tokens = append(l.Tokens, p.Token)
	}
	return nil
}

func newLedgerID() string {
	return "ledger-" + strconv.Itoa(faker.RandomInt(0, 1<<30)) + "-" + sourcing.NewID()
}

// newTestRepository wires a memory store, a bus without noise and a
// repository with the given cache.
func newTestRepository(t *testing.T, c sourcing.Cache[*Ledger]) (*sourcing.Repository[*Ledger], *store.Memory, *sourcing.Bus) {
	t.Helper()
	es := store.NewMemory()
	bus := sourcing.NewBus(
		sourcing.WithBusTracing(false),
		sourcing.WithBusMetrics(false))
	opts := []sourcing.RepositoryOption[*Ledger]{
		sourcing.WithRepositoryTracing[*Ledger](false),
		sourcing.WithRepositoryMetrics[*Ledger](false),
	}
	if c != nil {
		opts = append(opts, sourcing.WithCache[*Ledger](c))
	}
	repo, err := sourcing.NewRepository(es, bus, newLedger, opts...)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo, es, bus
}

// drainStream reads a stream to the end.
func drainStream(t *testing.T, s sourcing.Stream) []*sourcing.Event {
	t.Helper()
	ctx := context.Background()
	defer s.Close(ctx)
	var out []*sourcing.Event
	for s.Next(ctx) {
		out = append(out, s.Event())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	return out
}

// storedTokens replays the aggregate's persisted stream into token order.
func storedTokens(t *testing.T, es sourcing.EventStore, id string) []string {
	t.Helper()
	stream, err := es.ReadStream(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	var tokens []string
	for _, ev := range drainStream(t, stream) {
		if p, ok := ev.Payload.(TokenAdded); ok {
			tokens = append(tokens, p.Token)
		}
	}
	return tokens
}
