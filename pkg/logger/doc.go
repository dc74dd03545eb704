// Package logger builds configured slog loggers for the control plane.
//
// The factory produces JSON output at info level by default, which suits
// log aggregation in production. Development setups switch to readable
// text output:
//
//	log := logger.New(
//		logger.WithService("gatekit"),
//		logger.WithFormat(logger.FormatText),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
// Context extractors inject request-scoped attributes (request IDs,
// subject IDs) at log time through a decorating handler, so callers pass
// plain contexts and still get correlated records.
package logger
