package sourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const repositoryScope = "sourcing.repository"

// CommittedHook receives every event a repository appended anywhere in a
// unit-of-work tree, after the root scope has committed. Use it to feed
// egress integrations (see the relay subpackage); it runs synchronously at
// root post-commit, so keep it cheap or hand off.
type CommittedHook func(ctx context.Context, events []*Event)

// repoOptions holds configuration for Repository (unexported).
type repoOptions[T Aggregate] struct {
	cache          Cache[T]
	logger         *slog.Logger
	tracingEnabled bool
	metricsEnabled bool
	committedHook  CommittedHook
}

// RepositoryOption option function for repository configuration.
type RepositoryOption[T Aggregate] func(*repoOptions[T])

// WithCache sets the aggregate snapshot cache. Defaults to NoCache.
func WithCache[T Aggregate](c Cache[T]) RepositoryOption[T] {
	return func(o *repoOptions[T]) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithRepositoryLogger sets a custom logger.
func WithRepositoryLogger[T Aggregate](l *slog.Logger) RepositoryOption[T] {
	return func(o *repoOptions[T]) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRepositoryTracing enables/disables tracing for loads.
func WithRepositoryTracing[T Aggregate](enabled bool) RepositoryOption[T] {
	return func(o *repoOptions[T]) {
		o.tracingEnabled = enabled
	}
}

// WithRepositoryMetrics enables/disables metrics.
func WithRepositoryMetrics[T Aggregate](enabled bool) RepositoryOption[T] {
	return func(o *repoOptions[T]) {
		o.metricsEnabled = enabled
	}
}

// WithCommittedHook sets a hook invoked at root post-commit with every event
// this repository appended in the tree.
func WithCommittedHook[T Aggregate](h CommittedHook) RepositoryOption[T] {
	return func(o *repoOptions[T]) {
		o.committedHook = h
	}
}

func newRepoOptions[T Aggregate](opts ...RepositoryOption[T]) *repoOptions[T] {
	o := &repoOptions[T]{
		cache:          NoCache[T]{},
		logger:         slog.Default(),
		tracingEnabled: true,
		metricsEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Repository loads, creates and saves one aggregate type against an event
// store, publishing appended events on an event bus and keeping a snapshot
// cache coherent with the unit-of-work protocol.
//
// All operations require an open unit of work in the context. Loads resolve
// through the tree's session first, so every scope in a tree works on the
// same instance; the cache is consulted only on a session miss, and written
// only once the root scope has committed.
type Repository[T Aggregate] struct {
	store   EventStore
	bus     *Bus
	factory Factory[T]
	cache   Cache[T]
	logger  *slog.Logger

	tracingEnabled bool
	metricsEnabled bool
	committedHook  CommittedHook
}

// NewRepository creates a repository over the given event store, bus and
// factory. Caching is disabled unless WithCache is provided.
func NewRepository[T Aggregate](store EventStore, bus *Bus, factory Factory[T], opts ...RepositoryOption[T]) (*Repository[T], error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if bus == nil {
		return nil, ErrBusRequired
	}
	if factory == nil {
		return nil, ErrFactoryRequired
	}
	o := newRepoOptions(opts...)
	return &Repository[T]{
		store:          store,
		bus:            bus,
		factory:        factory,
		cache:          o.cache,
		logger:         o.logger.With("component", repositoryScope),
		tracingEnabled: o.tracingEnabled,
		metricsEnabled: o.metricsEnabled,
		committedHook:  o.committedHook,
	}, nil
}

// Bus returns the event bus this repository publishes on.
func (r *Repository[T]) Bus() *Bus {
	return r.bus
}

// Load resolves the aggregate with the given id inside the active unit of
// work. Resolution order: the tree's session (same instance for every scope
// in the tree), then the cache, then a full replay of the event stream.
//
// Fails with ErrNoUnitOfWork outside a scope and ErrAggregateNotFound when
// the store holds no events for the id.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, ErrInvalidAggregateID
	}
	u, ok := Current(ctx)
	if !ok {
		return zero, fmt.Errorf("load %q: %w", id, ErrNoUnitOfWork)
	}
	t := u.tree

	if ent, ok := t.session.get(id); ok {
		agg, ok := ent.agg.(T)
		if !ok {
			return zero, fmt.Errorf("%w: aggregate %q", ErrTypeMismatch, id)
		}
		t.markNode(id, len(agg.base().pending))
		return agg, nil
	}

	if r.tracingEnabled {
		tracer := otel.Tracer(repositoryScope)
		var span trace.Span
		ctx, span = tracer.Start(ctx, "repository.load",
			trace.WithAttributes(attribute.String("aggregate.id", id)))
		defer span.End()
	}

	if agg, seq, ok := r.cache.Get(ctx, id); ok {
		r.countLoad(ctx, "cache")
		agg.base().setID(id)
		agg.base().setBaseline(seq)
		r.register(t, agg)
		r.logger.Debug("aggregate loaded from cache", "aggregate", id, "sequence", seq)
		return agg, nil
	}

	agg := r.factory(id)
	stream, err := r.store.ReadStream(ctx, id, 0)
	if err != nil {
		return zero, fmt.Errorf("read stream %q: %w", id, err)
	}
	defer stream.Close(ctx)

	var replayed uint64
	var baseline uint64
	for stream.Next(ctx) {
		ev := stream.Event()
		if err := agg.Apply(ev); err != nil {
			return zero, fmt.Errorf("replay aggregate %q at sequence %d: %w", id, ev.Sequence, err)
		}
		baseline = ev.Sequence + 1
		replayed++
	}
	if err := stream.Err(); err != nil {
		return zero, fmt.Errorf("read stream %q: %w", id, err)
	}
	if replayed == 0 {
		return zero, fmt.Errorf("%w: %q", ErrAggregateNotFound, id)
	}

	r.countLoad(ctx, "store")
	agg.base().setBaseline(baseline)
	r.register(t, agg)
	r.logger.Debug("aggregate replayed from store", "aggregate", id, "events", replayed)
	return agg, nil
}

// Add registers a newly created aggregate (not yet in any store) in the
// active unit of work's session, marking its pending events for the next
// saving phase.
func (r *Repository[T]) Add(ctx context.Context, agg T) error {
	id := agg.AggregateID()
	if id == "" {
		return ErrInvalidAggregateID
	}
	u, ok := Current(ctx)
	if !ok {
		return fmt.Errorf("add %q: %w", id, ErrNoUnitOfWork)
	}
	t := u.tree
	if _, ok := t.session.get(id); ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAggregate, id)
	}
	r.register(t, agg)
	t.markAdded(id)
	r.logger.Debug("aggregate added", "aggregate", id)
	return nil
}

// register puts the aggregate in the tree's session with this repository's
// save/publish collaborators, marks the active node for rollback, and makes
// sure the root post-commit hook (cache write + committed hook) is in place.
func (r *Repository[T]) register(t *tree, agg T) {
	id := agg.AggregateID()
	t.session.register(id, &entry{
		agg:   agg,
		owner: r,
		bus:   r.bus,
		save: func(ctx context.Context) ([]*Event, error) {
			return r.saveAggregate(ctx, agg)
		},
	})
	t.markNode(id, len(agg.base().pending))
	t.addRootHook(r, func(ctx context.Context) {
		r.afterRootCommit(ctx, t)
	})
}

// saveAggregate appends the aggregate's pending events with its baseline as
// the expected base sequence. On a sequence conflict the cache entry is
// evicted: some other writer advanced the aggregate past what this tree
// believed, so a stale snapshot must not persist.
func (r *Repository[T]) saveAggregate(ctx context.Context, agg T) ([]*Event, error) {
	b := agg.base()
	if len(b.pending) == 0 {
		return nil, nil
	}
	events := b.pending
	if err := r.store.Append(ctx, b.id, b.baseline, events); err != nil {
		if errors.Is(err, ErrSequenceConflict) {
			r.countConflict(ctx)
			if evictErr := r.cache.Evict(ctx, b.id); evictErr != nil {
				r.logger.Warn("cache evict failed", "aggregate", b.id, "error", evictErr)
			}
		}
		return nil, err
	}
	b.markSaved(len(events))
	r.logger.Debug("events appended", "aggregate", b.id, "count", len(events), "baseline", b.baseline)
	return events, nil
}

// afterRootCommit runs at root post-commit, after the entire tree has
// settled: it writes the final folded state of every aggregate this
// repository resolved into the cache, then fires the committed hook.
func (r *Repository[T]) afterRootCommit(ctx context.Context, t *tree) {
	var committed []*Event
	for _, ent := range t.session.ordered() {
		if ent.owner != any(r) {
			continue
		}
		agg, ok := ent.agg.(T)
		if !ok {
			continue
		}
		id := agg.AggregateID()
		if err := r.cache.Put(ctx, id, agg, agg.base().baseline); err != nil {
			r.logger.Warn("cache put failed", "aggregate", id, "error", err)
		}
		committed = append(committed, ent.appended...)
	}
	if r.committedHook != nil && len(committed) > 0 {
		r.committedHook(ctx, committed)
	}
}

func (r *Repository[T]) countLoad(ctx context.Context, source string) {
	if !r.metricsEnabled {
		return
	}
	meter := otel.Meter(repositoryScope)
	loaded, _ := meter.Int64Counter("aggregate.loaded",
		metric.WithDescription("Total number of aggregate loads, by source"))
	loaded.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (r *Repository[T]) countConflict(ctx context.Context) {
	if !r.metricsEnabled {
		return
	}
	meter := otel.Meter(repositoryScope)
	conflicts, _ := meter.Int64Counter("aggregate.sequence_conflicts",
		metric.WithDescription("Total number of sequence conflicts at append time"))
	conflicts.Add(ctx, 1)
}
