// Package gatekit is a progressive-delivery and cost-governance control
// plane. It decides, per subject and per feature, whether a gradually
// released capability is active, and continuously evaluates cost telemetry
// against prioritized rules to apply reversible mitigations.
//
// The package assembles the building blocks from pkg/ into one service
// object:
//
//   - pkg/flag: feature flags with percentage rollout, cost thresholds,
//     emergency shutdown, and A/B variant assignment
//   - pkg/rollout: percentage, geographic, demographic, time-window, and
//     canary rollout strategies with health-based automatic rollback
//   - pkg/govern: the cost-governance rule engine with reversible
//     throttle/degrade/queue/reject/shutdown actions
//   - pkg/schedule: the durable tick store and poller that drive
//     percentage increments, canary evaluations, and action reversals
//
// Basic usage:
//
//	backend := kv.NewMemoryStore()
//	cp, err := gatekit.New(gatekit.Config{Backend: backend})
//	if err != nil {
//		return err
//	}
//	if err := cp.Start(ctx); err != nil {
//		return err
//	}
//	defer cp.Close()
//
//	decision := cp.ShouldReceiveFeature(ctx, "new-checkout", flag.Subject{
//		ID:      "user-123",
//		Country: "NL",
//	})
//	if decision.Enabled {
//		// serve the new path
//	}
//
// All state lives in the kv backend, so multiple processes can share one
// Redis or Postgres instance. Exactly one of them should run Start; the
// others construct the ControlPlane for its evaluation surface only.
package gatekit
