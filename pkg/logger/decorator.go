package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor pulls one attribute out of a context at log time.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// decoratedHandler wraps a handler and injects context attributes per
// record. Extraction runs only when a record is actually emitted.
type decoratedHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

func decorate(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	if len(extractors) == 0 {
		return next
	}
	return &decoratedHandler{next: next, extractors: extractors}
}

func (h *decoratedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *decoratedHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *decoratedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &decoratedHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *decoratedHandler) WithGroup(name string) slog.Handler {
	return &decoratedHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}
