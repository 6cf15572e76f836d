package sourcing

import (
	"context"
	"fmt"
	"log/slog"
)

// Phase is the commit state of one unit of work. Transitions are monotonic:
//
//	Started → Saving → Publishing → AwaitingSubtree → PostCommit → Closed
//	Started → Closed (rollback)
type Phase int32

const (
	// PhaseStarted: open, accepting loads, adds and mutations.
	PhaseStarted Phase = iota
	// PhaseSaving: pending events are being appended to the event store.
	PhaseSaving
	// PhasePublishing: appended events are being dispatched on the bus;
	// listeners may open nested scopes under this one.
	PhasePublishing
	// PhaseAwaitingSubtree: waiting for every transitively induced nested
	// scope to close.
	PhaseAwaitingSubtree
	// PhasePostCommit: post-commit callbacks are running against the final
	// session state.
	PhasePostCommit
	// PhaseClosed: terminal; the scope has been popped.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseSaving:
		return "saving"
	case PhasePublishing:
		return "publishing"
	case PhaseAwaitingSubtree:
		return "awaiting-subtree"
	case PhasePostCommit:
		return "post-commit"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(p))
	}
}

// node is one scope in the tree arena. Parent and children are handles into
// tree.nodes, so there are no ownership cycles between nodes.
type node struct {
	parent     int // -1 for the root
	children   []int
	phase      Phase
	committed  bool
	marks      map[string]int // aggregate id → pending length at first touch
	added      []string       // aggregate ids first added under this node
	postCommit []func(context.Context)
}

type rootHook struct {
	owner any
	fn    func(context.Context)
}

// tree holds one unit-of-work tree in progress: the node arena, the stack of
// active handles, and the root-scoped session. A tree belongs to exactly one
// logical call chain and is never shared across goroutines.
type tree struct {
	nodes     []*node
	stack     []int
	session   *Session
	rootHooks []rootHook
	closed    bool
}

func (t *tree) active(h int) bool {
	return len(t.stack) > 0 && t.stack[len(t.stack)-1] == h
}

// markNode records, on the currently active node, the aggregate's pending
// length at first touch. Rollback truncates back to this mark.
func (t *tree) markNode(id string, pendingLen int) {
	if len(t.stack) == 0 {
		return
	}
	n := t.nodes[t.stack[len(t.stack)-1]]
	if _, ok := n.marks[id]; !ok {
		n.marks[id] = pendingLen
	}
}

// markAdded records that the aggregate was first added (not loaded) under
// the currently active node, so rollback can unregister it.
func (t *tree) markAdded(id string) {
	if len(t.stack) == 0 {
		return
	}
	n := t.nodes[t.stack[len(t.stack)-1]]
	n.added = append(n.added, id)
}

// addRootHook registers a callback to run at root post-commit, at most once
// per owner per tree.
func (t *tree) addRootHook(owner any, fn func(context.Context)) {
	for _, h := range t.rootHooks {
		if h.owner == owner {
			return
		}
	}
	t.rootHooks = append(t.rootHooks, rootHook{owner: owner, fn: fn})
}

// openDescendants returns handles of transitively nested scopes of h that
// have not closed.
func (t *tree) openDescendants(h int) []int {
	var open []int
	var walk func(int)
	walk = func(i int) {
		for _, c := range t.nodes[i].children {
			if t.nodes[c].phase != PhaseClosed {
				open = append(open, c)
			}
			walk(c)
		}
	}
	walk(h)
	return open
}

// closeNode closes h and pops it from the active stack. Any scopes leaked
// above it (opened but never closed by a listener) are force-closed as
// failed on the way down. Closing the root seals the tree.
func (t *tree) closeNode(h int, committed bool) {
	for len(t.stack) > 0 {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		n := t.nodes[top]
		n.phase = PhaseClosed
		n.committed = committed && top == h
		if top == h {
			break
		}
	}
	if t.nodes[h].parent < 0 {
		t.closed = true
	}
}

// UnitOfWork is one transactional scope. Open it, load or add aggregates
// through a Repository, mutate them, then Commit (or Rollback before any
// save happened).
//
// Scopes nest implicitly: opening a scope while another is active makes the
// new scope a child of the active one. Committing a scope appends its
// session's pending events, publishes them synchronously, and blocks until
// every scope its listeners opened has itself closed; only then do its
// post-commit callbacks run, and only when the root closes is the cache
// updated — so no cache write can ever expose state that a still-open nested
// scope might change.
type UnitOfWork struct {
	tree   *tree
	handle int
}

// Open starts a new unit of work. If the context already carries an active
// scope the new one nests under it and shares its session; otherwise a new
// root scope with a fresh session is created.
//
// The returned context must be used for all repository calls and nested
// opens inside this scope.
func Open(ctx context.Context) (context.Context, *UnitOfWork) {
	t := treeFromContext(ctx)
	if t == nil || t.closed {
		t = &tree{session: newSession()}
		ctx = withTree(ctx, t)
	}
	parent := -1
	if len(t.stack) > 0 {
		parent = t.stack[len(t.stack)-1]
	}
	n := &node{parent: parent, phase: PhaseStarted, marks: make(map[string]int)}
	t.nodes = append(t.nodes, n)
	h := len(t.nodes) - 1
	if parent >= 0 {
		t.nodes[parent].children = append(t.nodes[parent].children, h)
	}
	t.stack = append(t.stack, h)
	return ctx, &UnitOfWork{tree: t, handle: h}
}

// Run opens a unit of work, runs fn inside it, and commits. If fn returns an
// error the scope is rolled back and the error returned unchanged.
func Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, u := Open(ctx)
	if err := fn(ctx); err != nil {
		u.Rollback(ctx)
		return err
	}
	return u.Commit(ctx)
}

// Phase returns the scope's current commit phase.
func (u *UnitOfWork) Phase() Phase {
	return u.tree.nodes[u.handle].phase
}

// IsRoot reports whether this scope is the root of its tree.
func (u *UnitOfWork) IsRoot() bool {
	return u.tree.nodes[u.handle].parent < 0
}

// Committed reports whether the scope closed by a successful commit.
func (u *UnitOfWork) Committed() bool {
	n := u.tree.nodes[u.handle]
	return n.phase == PhaseClosed && n.committed
}

// Session returns the tree-wide session of resolved aggregates.
func (u *UnitOfWork) Session() *Session {
	return u.tree.session
}

// OnPostCommit registers a callback to run once this scope and its entire
// induced subtree have committed. Callbacks observe the then-current session
// state, which includes every mutation made anywhere in the subtree.
func (u *UnitOfWork) OnPostCommit(fn func(ctx context.Context)) {
	n := u.tree.nodes[u.handle]
	n.postCommit = append(n.postCommit, fn)
}

type publication struct {
	ev  *Event
	bus *Bus
}

// Commit drives the scope through its saving, publishing and post-commit
// phases. It fails with ErrInvalidState unless this scope is the active one
// and still in Started.
//
// Saving appends every session aggregate's pending events to its event
// store; a SequenceConflictError aborts the remaining phases. Publishing
// dispatches the appended events synchronously, in assignment order;
// listeners may open nested scopes, which must all close before this call
// returns. Post-commit callbacks (and, for the root, the cache writes) run
// only after the whole subtree has settled and only if no session aggregate
// is left holding unsaved events — a listener that records on a session
// aggregate without opening its own scope fails the commit the same way a
// leaked scope does.
//
// On failure the scope closes as failed, its post-commit callbacks never
// run, and already-appended events are not compensated.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	t := u.tree
	n := t.nodes[u.handle]
	if !t.active(u.handle) || n.phase != PhaseStarted {
		return &InvalidStateError{Op: "commit", Phase: n.phase}
	}

	n.phase = PhaseSaving
	var pubs []publication
	for _, ent := range t.session.ordered() {
		evs, err := ent.save(ctx)
		if err != nil {
			t.closeNode(u.handle, false)
			return fmt.Errorf("commit: saving aggregate %q: %w", ent.agg.AggregateID(), err)
		}
		if len(evs) == 0 {
			continue
		}
		ent.appended = append(ent.appended, evs...)
		for _, ev := range evs {
			pubs = append(pubs, publication{ev: ev, bus: ent.bus})
		}
	}

	n.phase = PhasePublishing
	for _, p := range pubs {
		if p.bus == nil {
			continue
		}
		if err := p.bus.Publish(ctx, p.ev); err != nil {
			t.closeNode(u.handle, false)
			return fmt.Errorf("commit: publishing event %s for aggregate %q: %w",
				p.ev.ID, p.ev.AggregateID, err)
		}
	}

	n.phase = PhaseAwaitingSubtree
	if open := t.openDescendants(u.handle); len(open) > 0 {
		t.closeNode(u.handle, false)
		return &InvalidStateError{
			Op:     "commit",
			Phase:  PhaseAwaitingSubtree,
			Reason: fmt.Sprintf("%d nested scope(s) left open", len(open)),
		}
	}

	// Events recorded by a listener that never opened a scope of its own have
	// no Saving phase left to run. Letting them through would hand post-commit
	// work (and the root's cache write) a state the store never saw.
	for _, ent := range t.session.ordered() {
		if pending := len(ent.agg.base().pending); pending > 0 {
			t.closeNode(u.handle, false)
			return &InvalidStateError{
				Op:     "commit",
				Phase:  PhaseAwaitingSubtree,
				Reason: fmt.Sprintf("aggregate %q has %d event(s) recorded outside any scope", ent.agg.AggregateID(), pending),
			}
		}
	}

	n.phase = PhasePostCommit
	for _, fn := range n.postCommit {
		fn(ctx)
	}
	if n.parent < 0 {
		for _, h := range t.rootHooks {
			h.fn(ctx)
		}
	}

	t.closeNode(u.handle, true)
	return nil
}

// Rollback cancels a scope that has not started saving: pending events
// recorded under it are discarded, aggregates it added are unregistered,
// nothing is appended or published, and its post-commit callbacks never run.
//
// Rollback never returns an error. Called on a scope that is not the active
// one or is past Started, it logs and does nothing — cancellation is only
// meaningful pre-save.
func (u *UnitOfWork) Rollback(ctx context.Context) {
	t := u.tree
	n := t.nodes[u.handle]
	if !t.active(u.handle) || n.phase != PhaseStarted {
		slog.Default().Warn("rollback ignored",
			"component", "sourcing.uow",
			"phase", n.phase.String(),
			"active", t.active(u.handle))
		return
	}
	for id, mark := range n.marks {
		if ent, ok := t.session.get(id); ok {
			ent.agg.base().truncatePending(mark)
		}
	}
	for _, id := range n.added {
		t.session.remove(id)
	}
	t.closeNode(u.handle, false)
}
