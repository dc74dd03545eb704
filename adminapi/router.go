package adminapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/gatekit/pkg/flag"
	"github.com/dmitrymomot/gatekit/pkg/govern"
	"github.com/dmitrymomot/gatekit/pkg/rollout"
)

// Dependencies carries the engines the router delegates to. Flags is
// required; the rollout and governance sections are mounted only when
// their engine is present.
type Dependencies struct {
	Flags      *flag.Service
	Rollouts   *rollout.Engine
	Governance *govern.Engine
	Logger     *slog.Logger
}

// Router builds the operator API router.
func Router(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	fh := &flagHandlers{flags: deps.Flags, logger: deps.Logger}
	r.Route("/flags", func(r chi.Router) {
		r.Get("/", fh.list)
		r.Post("/", fh.create)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", fh.get)
			r.Put("/", fh.update)
			r.Delete("/", fh.remove)
			r.Post("/shutdown", fh.shutdown)
		})
	})

	if deps.Rollouts != nil {
		sh := &strategyHandlers{rollouts: deps.Rollouts, logger: deps.Logger}
		r.Route("/strategies", func(r chi.Router) {
			r.Post("/", sh.create)
			r.Route("/{feature}", func(r chi.Router) {
				r.Get("/", sh.get)
				r.Post("/pause", sh.pause)
				r.Post("/resume", sh.resume)
				r.Post("/rollback", sh.rollback)
				r.Put("/metrics", sh.updateMetrics)
			})
		})
	}

	if deps.Governance != nil {
		gh := &governanceHandlers{governance: deps.Governance, logger: deps.Logger}
		r.Route("/governance", func(r chi.Router) {
			r.Post("/execute", gh.execute)
			r.Post("/actions/{id}/reverse", gh.reverseAction)
			r.Route("/{subject}", func(r chi.Router) {
				r.Get("/", gh.getConfig)
				r.Put("/", gh.setConfig)
				r.Delete("/", gh.reset)
				r.Get("/restrictions", gh.restrictions)
				r.Get("/actions", gh.listActions)
			})
		})
	}

	return r
}
