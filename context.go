package sourcing

import "context"

// scopeKey carries the unit-of-work tree of the current logical call chain.
// Each chain owns its own tree; the context value is never shared mutable
// state across goroutines.
type scopeKey struct{}

func withTree(ctx context.Context, t *tree) context.Context {
	return context.WithValue(ctx, scopeKey{}, t)
}

func treeFromContext(ctx context.Context) *tree {
	t, _ := ctx.Value(scopeKey{}).(*tree)
	return t
}

// Current returns the active unit of work of the calling chain, if any.
// The active unit is the most recently opened scope that has not yet closed.
func Current(ctx context.Context) (*UnitOfWork, bool) {
	t := treeFromContext(ctx)
	if t == nil || len(t.stack) == 0 {
		return nil, false
	}
	return &UnitOfWork{tree: t, handle: t.stack[len(t.stack)-1]}, true
}
