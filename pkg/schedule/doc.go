// Package schedule provides the durable scheduled-tick abstraction that
// drives every time-based behavior in the control plane: rollout percentage
// increments, canary promotion evaluations, and automatic reversal of
// governance actions.
//
// A Tick is a persisted "run this kind of work for this key at time T"
// record. The persisted record is the source of truth; the in-process
// Poller is only a local cadence for asking "what is due now?". Because
// ticks live in the durable store, a process restart loses nothing — the
// next poll picks up whatever is due, and owners recompute missing ticks
// during resync.
//
// Handlers are registered per tick kind and must be idempotent: a tick that
// fires concurrently with a cancellation, or is retried after a handler
// error, must detect stale state in its owner and no-op.
//
// Usage:
//
//	store := schedule.NewStore(kvStore)
//	poller := schedule.NewPoller(store,
//		schedule.WithInterval(30*time.Second),
//	)
//	poller.Handle(schedule.KindRolloutIncrement, func(ctx context.Context, tick schedule.Tick) error {
//		return engine.HandleIncrement(ctx, tick.Key)
//	})
//	go poller.Run(ctx)
package schedule
