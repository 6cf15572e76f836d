// Package sourcing implements event-sourced aggregate persistence with a
// coherency-preserving snapshot cache under nested, reentrant units of work.
//
// # Why nesting is the hard part
//
// Committing a unit of work publishes its events synchronously; listeners
// may react by opening further units of work against the same aggregates
// before the outer commit finishes. If the cache were written as soon as one
// scope committed, later scopes in the same tree would see stale snapshots
// and assign duplicate sequence numbers. This package prevents that with two
// mechanisms: a single session of resolved aggregates shared by the whole
// tree (every scope works on the same instance), and post-commit work —
// including the cache write — deferred until the root scope's entire induced
// subtree has closed.
//
// # Basic usage
//
//	bus := sourcing.NewBus()
//	repo, err := sourcing.NewRepository(store.NewMemory(), bus, newOrder,
//	    sourcing.WithCache[*Order](cache.NewMemory[*Order]()))
//
//	ctx, uow := sourcing.Open(ctx)
//	order := newOrder(id)
//	sourcing.Record(order, OrderCreated{ID: id})
//	repo.Add(ctx, order)
//	err = uow.Commit(ctx)
//
// Listeners subscribed on the bus run during the commit and may open nested
// scopes with sourcing.Open(ctx); nesting is detected from the context, so
// the listener code is identical whether it runs top-level or nested:
//
//	bus.Subscribe(func(ctx context.Context, ev *sourcing.Event) error {
//	    created, ok := ev.Payload.(OrderCreated)
//	    if !ok {
//	        return nil
//	    }
//	    return sourcing.Run(ctx, func(ctx context.Context) error {
//	        order, err := repo.Load(ctx, created.ID)
//	        if err != nil {
//	            return err
//	        }
//	        return sourcing.Record(order, OrderAcknowledged{})
//	    })
//	})
//
// # Subpackages
//
//   - store: event store backends (memory, Redis, MongoDB, PostgreSQL)
//   - cache: snapshot cache backends (memory, Redis)
//   - codec: payload codecs (JSON, MessagePack, Protobuf) and type registry
//   - relay: post-commit egress of committed events to NATS or Kafka
//
// # Concurrency model
//
// One unit-of-work tree belongs to one goroutine: nesting is reentrant
// call/return, not parallel execution. The event store and cache are
// process-wide shared resources; stores serialize appenders per aggregate id
// and signal losers with a SequenceConflictError.
package sourcing
