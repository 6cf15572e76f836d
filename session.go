package sourcing

import "context"

// entry is one resolved aggregate in a session, together with the save and
// publish collaborators its repository registered for it.
type entry struct {
	agg      Aggregate
	owner    any // the registering repository
	bus      *Bus
	save     func(ctx context.Context) ([]*Event, error)
	appended []*Event // events appended for this aggregate anywhere in the tree
}

// Session is the set of aggregates already resolved somewhere in one unit-of-
// work tree. It is scoped to the root scope and shared by every nested scope,
// which guarantees at most one live instance per aggregate id per tree:
// every load of the same id returns the same instance, so nested scopes can
// never diverge on independently loaded copies.
type Session struct {
	entries map[string]*entry
	order   []string
}

func newSession() *Session {
	return &Session{entries: make(map[string]*entry)}
}

func (s *Session) get(id string) (*entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

func (s *Session) register(id string, e *entry) {
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = e
}

func (s *Session) remove(id string) {
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ordered returns the entries in registration order.
func (s *Session) ordered() []*entry {
	out := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Len returns the number of resolved aggregates.
func (s *Session) Len() int {
	return len(s.entries)
}

// Contains reports whether the aggregate id is resolved in this session.
func (s *Session) Contains(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Aggregate returns the resolved instance for id, if present.
func (s *Session) Aggregate(id string) (Aggregate, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.agg, true
}
