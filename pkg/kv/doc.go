// Package kv provides the durable key-value store contract that the control
// plane persists its records through: feature flags, rollout strategies,
// governance configuration, control actions, and scheduled ticks.
//
// The contract is deliberately narrow: get, unconditional put, conditional
// (version-guarded) update, delete, and prefix listing. Every record carries
// a monotonically increasing version; Update fails with ErrVersionConflict
// when the caller's expected version is stale, which gives per-key
// linearizable writes without any cross-key coordination.
//
// Three implementations are provided:
//
//   - MemoryStore: process-local, for tests and single-node deployments.
//   - RedisStore: value and version held in a Redis hash, CAS via WATCH.
//   - PostgresStore: a single kv_records table, CAS via a guarded UPDATE.
//
// All backend calls respect the caller's context deadline and apply a
// bounded default timeout when none is set, so no store call can block a
// request path indefinitely.
//
// Usage:
//
//	store := kv.NewMemoryStore()
//	ver, err := store.Put(ctx, "flag:new-checkout", payload)
//	if err != nil {
//		// handle
//	}
//	_, err = store.Update(ctx, "flag:new-checkout", updated, ver)
//	if errors.Is(err, kv.ErrVersionConflict) {
//		// re-read and retry
//	}
package kv
