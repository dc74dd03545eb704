// Package flag implements the feature flag store: durable flag records,
// a TTL read-through cache, reason-coded eligibility evaluation, A/B
// variant assignment, and operator emergency shutdown.
//
// # Evaluation order
//
// IsEnabled applies a fixed sequence of checks and reports the first one
// that decides the outcome as a closed Reason code:
//
//  1. flag existence        -> ReasonFlagNotFound
//  2. emergency shutdown    -> ReasonEmergencyShutdown
//  3. global enabled bit    -> ReasonGloballyDisabled
//  4. cost threshold        -> ReasonCostThresholdExceeded
//  5. rollout bucketing     -> ReasonNotInRollout
//  6. active A/B test       -> ReasonABTestActive (with variant)
//  7. otherwise             -> ReasonFullyEnabled
//
// Callers must branch on the Reason code, never on message text. Rollout
// inclusion and variant assignment use distinct bucketing salts so the two
// decisions are statistically independent.
//
// # Failure semantics
//
// Reads fail safe: if the durable store is unreachable, IsEnabled reports
// the flag as not found, which callers are expected to treat as disabled.
// This is a deliberate fail-closed default for gated features. Writes fail
// loudly: update errors propagate to the caller and are never dropped.
//
// Emergency shutdown bypasses cache staleness entirely — the cache entry is
// invalidated synchronously before the call returns, so no subsequent read
// within the TTL window can observe the pre-shutdown state.
package flag
