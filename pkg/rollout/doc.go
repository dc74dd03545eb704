// Package rollout implements the strategy engine that governs how a
// feature flag's exposure changes over time: percentage ramps, geographic
// and demographic targeting, time windows, and canary releases with
// automatic health-based rollback.
//
// # Lifecycle
//
// Each feature has at most one strategy. Its status moves through a small
// state machine:
//
//	active -> paused     (health failure on an increment tick, or operator)
//	paused -> active     (resume; continues from the persisted percentage)
//	active -> completed  (reached 100%, or canary promoted)
//	active -> rolled_back
//	paused -> rolled_back
//
// completed and rolled_back are terminal. Rollback is irreversible and
// idempotent: it cancels pending ticks, forces the flag disabled at 0%,
// and repeated calls are no-ops.
//
// # Scheduling
//
// Percentage increments and canary evaluations are persisted ticks
// (pkg/schedule), so they survive process restarts. Resync recomputes any
// missing tick for active strategies on startup. A tick firing concurrently
// with a rollback observes the terminal status and no-ops.
//
// # Health gate
//
// Enabled health checks run against the latest metrics snapshot. Absent
// metrics are treated as healthy by default — telemetry commonly lags a
// young rollout — but WithFailClosedHealth flips that policy for operators
// who would rather stall a rollout than proceed blind.
//
// Canary health failures and promotion failures are expected branches of
// the state machine: they are logged as business events, never surfaced as
// errors.
package rollout
