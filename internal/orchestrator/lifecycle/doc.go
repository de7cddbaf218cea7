// Package lifecycle records the instances a boot run spawns so they can be
// torn down in exact reverse creation order.
//
// # Main Types
//
//   - [Ledger]: append-only, generation-tagged record of spawned instances
//   - [Entry]: one recorded instance with its status and timestamps
//   - [InstanceStatus]: spawned, destroying, destroyed, failed
//   - [Callbacks]: hooks for status changes and completed destructions
//
// # Generations
//
// The ledger accepts appends only for the generation set by [Ledger.Begin].
// An instance produced by a superseded run is destroyed on the spot and
// never recorded, so a restarted run cannot inherit half-built state.
//
// # Thread Safety
//
// [Ledger] is safe for concurrent use. Callbacks are invoked synchronously
// outside the ledger's lock and should complete quickly.
//
// # Basic Usage
//
//	ledger := lifecycle.NewLedger(lifecycle.Callbacks{
//	    OnDestroyed: func(e lifecycle.Entry, err error) {
//	        bus.Publish(event.NewInstanceDestroyedEvent(e.ID(), e.Template(), errString(err)))
//	    },
//	}, logger)
//
//	ledger.Begin(token.Generation())
//	if err := ledger.Append(ctx, token.Generation(), inst); err != nil {
//	    // stale generation: inst has already been destroyed
//	}
//
//	for _, e := range ledger.Backward() {
//	    _ = ledger.Destroy(ctx, e.ID())
//	}
//	ledger.Clear()
package lifecycle
