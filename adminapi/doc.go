// Package adminapi exposes the operator HTTP surface of the control
// plane: flag CRUD and emergency shutdown, rollout strategy lifecycle,
// telemetry ingestion and governance administration.
//
// The package is a thin JSON translation layer over the engines; every
// invariant lives below it. Mount the router wherever the host
// application serves operator traffic:
//
//	r := chi.NewRouter()
//	r.Mount("/admin", adminapi.Router(adminapi.Dependencies{
//		Flags:      flags,
//		Rollouts:   rollouts,
//		Governance: governance,
//	}))
//
// Errors map onto status codes uniformly: typed not-found errors become
// 404, validation failures 400, optimistic-concurrency conflicts 409,
// anything else 500.
package adminapi
