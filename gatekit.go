package gatekit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/gatekit/pkg/alert"
	"github.com/dmitrymomot/gatekit/pkg/flag"
	"github.com/dmitrymomot/gatekit/pkg/govern"
	"github.com/dmitrymomot/gatekit/pkg/kv"
	"github.com/dmitrymomot/gatekit/pkg/rollout"
	"github.com/dmitrymomot/gatekit/pkg/schedule"
)

// ErrNilBackend is returned by New when no kv backend is provided.
var ErrNilBackend = errors.New("gatekit: backend cannot be nil")

// Config carries the wiring New needs. Backend is required; everything
// else has a working default.
type Config struct {
	// Backend holds all control-plane state. The caller owns its
	// lifecycle; Close does not close it.
	Backend kv.Store

	// Defaults seeds governance configs for subjects seen for the first
	// time. When nil, new subjects start enabled with no rules.
	Defaults govern.Source

	// PollInterval is the background tick cadence. Zero keeps the
	// poller default.
	PollInterval time.Duration
}

// Option configures optional ControlPlane collaborators.
type Option func(*settings)

type settings struct {
	logger           *slog.Logger
	alerts           alert.Publisher
	now              func() time.Time
	cacheTTL         time.Duration
	failClosedHealth bool
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAlerts sets the publisher for emergency-shutdown, rollback, and
// cost-control notifications.
func WithAlerts(publisher alert.Publisher) Option {
	return func(s *settings) {
		if publisher != nil {
			s.alerts = publisher
		}
	}
}

// WithClock overrides the shared time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFlagCacheTTL sets how long flag reads are served from memory
// before hitting the backend again.
func WithFlagCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithFailClosedHealth makes health-gated rollout evaluation treat
// missing metrics as unhealthy.
func WithFailClosedHealth() Option {
	return func(s *settings) { s.failClosedHealth = true }
}

// ControlPlane bundles the flag service, the rollout and governance
// engines, and the background scheduler that drives them.
type ControlPlane struct {
	Flags      *flag.Service
	Rollouts   *rollout.Engine
	Governance *govern.Engine
	Scheduler  *schedule.Poller
	Alerts     alert.Publisher

	ticks  *schedule.Store
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a ControlPlane over the given backend. It does not start
// background work; call Start for that.
func New(cfg Config, opts ...Option) (*ControlPlane, error) {
	if cfg.Backend == nil {
		return nil, ErrNilBackend
	}

	s := settings{
		logger: slog.Default(),
		alerts: alert.NopPublisher{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}

	source := cfg.Defaults
	if source == nil {
		source = govern.StaticSource{Config: govern.Config{Enabled: true}}
	}

	flagOpts := []flag.ServiceOption{
		flag.WithLogger(s.logger),
		flag.WithAlerts(s.alerts),
		flag.WithClock(s.now),
	}
	if s.cacheTTL > 0 {
		flagOpts = append(flagOpts, flag.WithCacheTTL(s.cacheTTL))
	}
	flags := flag.NewService(flag.NewStore(cfg.Backend), flagOpts...)

	ticks := schedule.NewStore(cfg.Backend)

	rolloutOpts := []rollout.EngineOption{
		rollout.WithLogger(s.logger),
		rollout.WithAlerts(s.alerts),
		rollout.WithClock(s.now),
	}
	if s.failClosedHealth {
		rolloutOpts = append(rolloutOpts, rollout.WithFailClosedHealth())
	}
	rollouts := rollout.NewEngine(flags,
		rollout.NewStore(cfg.Backend),
		rollout.NewMetricsStore(cfg.Backend),
		ticks, rolloutOpts...)

	governance := govern.NewEngine(
		govern.NewConfigStore(cfg.Backend),
		govern.NewActionStore(cfg.Backend),
		govern.NewCostStore(cfg.Backend),
		source, ticks,
		govern.WithLogger(s.logger),
		govern.WithAlerts(s.alerts),
		govern.WithClock(s.now),
	)

	pollerOpts := []schedule.PollerOption{
		schedule.WithLogger(s.logger),
		schedule.WithClock(s.now),
	}
	if cfg.PollInterval > 0 {
		pollerOpts = append(pollerOpts, schedule.WithInterval(cfg.PollInterval))
	}
	poller := schedule.NewPoller(ticks, pollerOpts...)
	rollouts.RegisterHandlers(poller)
	governance.RegisterHandlers(poller)

	return &ControlPlane{
		Flags:      flags,
		Rollouts:   rollouts,
		Governance: governance,
		Scheduler:  poller,
		Alerts:     s.alerts,
		ticks:      ticks,
		logger:     s.logger,
	}, nil
}

// Start reconciles persisted rollout schedules against the tick store
// and launches the background poller. It returns once the poller is
// running; Close stops it.
func (cp *ControlPlane) Start(ctx context.Context) error {
	if err := cp.Rollouts.Resync(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cp.cancel = cancel
	cp.done = make(chan struct{})
	go func() {
		defer close(cp.done)
		if err := cp.Scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			cp.logger.Error("scheduler stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Close stops the background poller. It does not close the backend.
func (cp *ControlPlane) Close() error {
	if cp.cancel == nil {
		return nil
	}
	cp.cancel()
	<-cp.done
	cp.cancel = nil
	return nil
}

// IsFeatureEnabled evaluates the flag-level checks only: emergency
// shutdown, global enablement, cost threshold, rollout percentage, and
// A/B assignment. Rollout strategies are not consulted.
func (cp *ControlPlane) IsFeatureEnabled(ctx context.Context, name string, subject flag.Subject) flag.Decision {
	return cp.Flags.IsEnabled(ctx, name, subject)
}

// ShouldReceiveFeature is the full evaluation path: when an active
// rollout strategy exists for the feature it decides, otherwise the
// decision falls through to the flag itself.
func (cp *ControlPlane) ShouldReceiveFeature(ctx context.Context, feature string, subject flag.Subject) rollout.Decision {
	return cp.Rollouts.Evaluate(ctx, feature, subject)
}

// ExecuteAutoControls runs one governance pass for the subject described
// by the event and returns the actions that fired.
func (cp *ControlPlane) ExecuteAutoControls(ctx context.Context, event govern.CostEvent) ([]govern.Action, error) {
	return cp.Governance.Execute(ctx, event)
}

// UpdateMetrics merges a health-metrics sample for a feature's rollout.
func (cp *ControlPlane) UpdateMetrics(ctx context.Context, feature string, update rollout.MetricsUpdate) error {
	return cp.Rollouts.UpdateMetrics(ctx, feature, update)
}
