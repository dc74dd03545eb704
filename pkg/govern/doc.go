// Package govern implements per-subject cost governance: prioritized
// rules that watch spend and automatically apply reversible mitigations
// (throttle, degrade, queue, reject, shutdown) when cost triggers fire.
//
// Each subject carries an AutoControl Config holding an ordered rule set,
// an emergency cost limit and a graceful-degradation ladder. Configs are
// bootstrapped lazily from a defaults Source on the first cost event and
// live in the versioned key-value store like every other record.
//
// Execute is driven by an external cost-accounting pipeline:
//
//	actions, err := engine.Execute(ctx, govern.CostEvent{
//		SubjectID:   "user-42",
//		CurrentCost: 26.10,
//		Period:      govern.PeriodDay,
//	})
//
// Enabled rules are evaluated in descending priority order. A rule fires
// when all of its conditions hold and its trigger predicate is true; every
// firing rule executes and is recorded as an Action, except that a fired
// shutdown halts the pass since it supersedes lesser mitigations.
//
// Restrictions are derived, never mutated: ActiveRestrictions recomputes
// the effective limits from the set of currently active actions, so
// reversing an action is just flipping its record. Reversible actions
// with a duration are scheduled for automatic reversal through the
// schedule package and survive process restarts.
package govern
