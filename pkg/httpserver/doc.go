// Package httpserver wraps net/http with graceful shutdown, configurable
// timeouts, health-check handlers, and slog logging. The control-plane
// daemon uses it to serve the operator API.
//
// Run blocks until the context is cancelled or an interrupt/TERM signal
// arrives, then shuts down with a configurable deadline. Construction is
// through New or NewFromConfig with Option helpers; startup and shutdown
// side effects hang off WithStartHook and WithStopHook. Errors compose
// with the ErrStart and ErrShutdown sentinels for errors.Is checks.
//
// Usage:
//
//	srv := httpserver.NewFromConfig(cfg,
//		httpserver.WithLogger(log),
//		httpserver.WithStartHook(func(l *slog.Logger) {
//			l.Info("admin api listening", slog.String("addr", cfg.Addr))
//		}),
//	)
//
//	mux := chi.NewRouter()
//	mux.Get("/health", httpserver.HealthCheckHandler(ctx, log))
//	mux.Mount("/", adminapi.Router(deps))
//
//	if err := srv.Run(ctx, mux); err != nil {
//		log.Error("server exited", slog.String("error", err.Error()))
//	}
package httpserver
