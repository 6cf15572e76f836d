package cache

import (
	"context"
	"testing"

	"github.com/rbaliyan/sourcing"
)

type counter struct {
	sourcing.Base
	N int `json:"n"`
}

type bumped struct{}

func newCounter(id string) *counter {
	return &counter{Base: sourcing.NewBase(id)}
}

func (c *counter) Apply(ev *sourcing.Event) error {
	if _, ok := ev.Payload.(bumped); ok {
		c.N++
	}
	return nil
}

func TestMemoryCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[*counter]()

	if _, _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("empty cache reported a hit")
	}

	first := newCounter("a")
	first.N = 1
	if err := c.Put(ctx, "a", first, 3); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, seq, ok := c.Get(ctx, "a")
	if !ok {
		t.Fatal("miss after Put")
	}
	if got != first {
		t.Error("memory cache did not return the stored reference")
	}
	if seq != 3 {
		t.Errorf("sequence = %d, want 3", seq)
	}

	// Last writer wins.
	second := newCounter("a")
	second.N = 2
	if err := c.Put(ctx, "a", second, 5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, seq, ok = c.Get(ctx, "a")
	if !ok || got != second || seq != 5 {
		t.Errorf("after overwrite got %v at %d, want second at 5", got, seq)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	if err := c.Evict(ctx, "a"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, _, ok := c.Get(ctx, "a"); ok {
		t.Error("hit after Evict")
	}
	// Evicting a missing entry is fine.
	if err := c.Evict(ctx, "a"); err != nil {
		t.Fatalf("Evict of missing entry: %v", err)
	}
}
