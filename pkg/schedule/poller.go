package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler executes the work a due tick represents. Handlers must be
// idempotent: a tick may be retried after an error, and may fire
// concurrently with a cancellation of its owner.
type Handler func(ctx context.Context, tick Tick) error

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the poll cadence. Non-positive values are ignored.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the poller's logger.
func WithLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the poller's time source. Intended for tests.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// Poller periodically asks the tick store what is due and dispatches to the
// registered handler per kind. One poller per process is the expected
// deployment; the store's conditional status transition keeps a tick from
// completing twice even with overlapping pollers.
type Poller struct {
	store    *Store
	handlers map[Kind]Handler
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	running  bool
	mu       sync.Mutex
}

// NewPoller creates a poller over the tick store.
func NewPoller(store *Store, opts ...PollerOption) *Poller {
	p := &Poller{
		store:    store,
		handlers: make(map[Kind]Handler),
		interval: 30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle registers the handler for a tick kind, replacing any previous one.
func (p *Poller) Handle(kind Kind, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = handler
}

// Run polls until ctx is cancelled. It processes due ticks immediately on
// start, so restart recovery does not wait a full interval.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerRunning
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunDue(ctx, p.now())

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "schedule poller shutting down")
			return ctx.Err()
		case <-ticker.C:
			p.RunDue(ctx, p.now())
		}
	}
}

// RunDue processes every tick due at the given time. It is exported so
// tests and resync paths can drive the poller with a simulated clock.
func (p *Poller) RunDue(ctx context.Context, now time.Time) {
	due, err := p.store.Due(ctx, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to load due ticks", slog.String("error", err.Error()))
		return
	}

	for _, tick := range due {
		p.dispatch(ctx, tick)
	}
}

func (p *Poller) dispatch(ctx context.Context, tick Tick) {
	p.mu.Lock()
	handler, ok := p.handlers[tick.Kind]
	p.mu.Unlock()

	if !ok {
		// Complete rather than retry forever: an unknown kind means the
		// record outlived the code that understood it.
		p.logger.WarnContext(ctx, "dropping tick with no handler",
			slog.String("tick_id", tick.ID.String()),
			slog.String("kind", string(tick.Kind)))
		_ = p.store.Complete(ctx, tick.ID)
		return
	}

	if err := handler(ctx, tick); err != nil {
		// Leave the tick pending so the next poll retries it.
		p.logger.ErrorContext(ctx, "tick handler failed",
			slog.String("tick_id", tick.ID.String()),
			slog.String("kind", string(tick.Kind)),
			slog.String("key", tick.Key),
			slog.String("error", err.Error()))
		return
	}

	if err := p.store.Complete(ctx, tick.ID); err != nil {
		p.logger.ErrorContext(ctx, "failed to complete tick",
			slog.String("tick_id", tick.ID.String()),
			slog.String("error", err.Error()))
	}
}
