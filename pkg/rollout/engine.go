package rollout

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/gatekit/pkg/alert"
	"github.com/dmitrymomot/gatekit/pkg/bucket"
	"github.com/dmitrymomot/gatekit/pkg/flag"
	"github.com/dmitrymomot/gatekit/pkg/schedule"
)

// engineActor stamps flag mutations made by the engine itself.
const engineActor = "rollout-engine"

// Rollback reasons recorded as business events.
const (
	RollbackCanaryHealthFailure   = "canary_health_failure"
	RollbackCanaryPromotionFailed = "canary_promotion_failed"
	RollbackRequestedByOperator   = "operator_request"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAlerts sets the notification publisher for rollback events.
func WithAlerts(publisher alert.Publisher) EngineOption {
	return func(e *Engine) {
		if publisher != nil {
			e.alerts = publisher
		}
	}
}

// WithFailClosedHealth makes absent metrics fail the health gate instead
// of passing it. The default fails open: telemetry lag early in a rollout
// should not stall it.
func WithFailClosedHealth() EngineOption {
	return func(e *Engine) { e.failOpenHealth = false }
}

// Engine evaluates rollout strategies and drives their scheduled
// lifecycle. All strategy mutations go through the versioned store, so
// concurrent ticks and operator calls resolve per-key.
type Engine struct {
	flags          *flag.Service
	strategies     *Store
	metrics        *MetricsStore
	ticks          *schedule.Store
	alerts         alert.Publisher
	logger         *slog.Logger
	now            func() time.Time
	failOpenHealth bool
}

// NewEngine creates a rollout engine.
func NewEngine(flags *flag.Service, strategies *Store, metrics *MetricsStore, ticks *schedule.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		flags:          flags,
		strategies:     strategies,
		metrics:        metrics,
		ticks:          ticks,
		alerts:         alert.NopPublisher{},
		logger:         slog.Default(),
		now:            time.Now,
		failOpenHealth: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandlers wires the engine's tick handlers into the poller.
func (e *Engine) RegisterHandlers(p *schedule.Poller) {
	p.Handle(schedule.KindRolloutIncrement, e.handleIncrement)
	p.Handle(schedule.KindCanaryEvaluation, e.handleCanaryEvaluation)
}

// CreateStrategy validates and persists a new strategy, pushes any initial
// exposure to the flag store, and schedules the first tick for types that
// need one. The feature flag must already exist.
func (e *Engine) CreateStrategy(ctx context.Context, st *Strategy) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := e.flags.Get(ctx, st.Feature); err != nil {
		return err
	}

	if st.Type == TypeCanary && st.Canary.Percentage == 0 {
		st.Canary.Percentage = DefaultCanaryPercentage
	}

	now := e.now()
	st.Status = StatusActive
	st.CreatedAt = now
	st.UpdatedAt = now

	if err := e.strategies.Create(ctx, st); err != nil {
		return err
	}

	switch st.Type {
	case TypePercentage:
		if st.Percentage.InitialPercentage > 0 {
			if _, err := e.flags.SetRolloutPercentage(ctx, st.Feature, st.Percentage.InitialPercentage, engineActor); err != nil {
				return err
			}
		}
		if _, err := e.ticks.Create(ctx, schedule.KindRolloutIncrement, st.Feature, now.Add(st.Percentage.IncrementInterval)); err != nil {
			return err
		}
	case TypeCanary:
		if _, err := e.flags.SetRolloutPercentage(ctx, st.Feature, st.Canary.Percentage, engineActor); err != nil {
			return err
		}
		if _, err := e.ticks.Create(ctx, schedule.KindCanaryEvaluation, st.Feature, now.Add(st.Canary.Duration)); err != nil {
			return err
		}
	}

	e.logger.InfoContext(ctx, "rollout strategy created",
		slog.String("feature", st.Feature),
		slog.String("type", string(st.Type)))
	return nil
}

// Evaluate decides whether a subject receives the feature. Without an
// active strategy the decision delegates to the flag store, carrying its
// reason code through unchanged.
func (e *Engine) Evaluate(ctx context.Context, feature string, subject flag.Subject) Decision {
	st, err := e.strategies.Get(ctx, feature)
	if err != nil || st.Status != StatusActive {
		if err != nil && !errors.Is(err, ErrStrategyNotFound) {
			e.logger.ErrorContext(ctx, "strategy read failed, delegating to flag store",
				slog.String("feature", feature),
				slog.String("error", err.Error()))
		}
		return e.delegate(ctx, feature, subject, st)
	}

	switch st.Type {
	case TypePercentage:
		return e.evaluatePercentage(ctx, st, subject)
	case TypeGeographic:
		return evaluateGeographic(st, subject)
	case TypeDemographic:
		return evaluateDemographic(st, subject)
	case TypeTimeBased:
		return evaluateTimeWindow(st, e.now())
	case TypeCanary:
		return e.evaluateCanary(ctx, st, subject)
	default:
		return e.delegate(ctx, feature, subject, st)
	}
}

func (e *Engine) delegate(ctx context.Context, feature string, subject flag.Subject, st *Strategy) Decision {
	fd := e.flags.IsEnabled(ctx, feature, subject)
	d := Decision{Enabled: fd.Enabled, Reason: Reason(fd.Reason)}
	if fd.Variant != "" || st != nil {
		d.Info = &Info{Variant: fd.Variant}
		if st != nil {
			d.Info.Strategy = st.Type
			d.Info.Status = st.Status
		}
	}
	return d
}

func (e *Engine) evaluatePercentage(ctx context.Context, st *Strategy, subject flag.Subject) Decision {
	f, err := e.flags.Get(ctx, st.Feature)
	if err != nil {
		return Decision{Enabled: false, Reason: Reason(flag.ReasonFlagNotFound)}
	}

	info := &Info{Strategy: TypePercentage, Status: st.Status, Percentage: f.RolloutPercentage}
	switch {
	case f.RolloutPercentage <= 0:
		return Decision{Enabled: false, Reason: ReasonRolloutNotStarted, Info: info}
	case f.RolloutPercentage >= 100:
		return Decision{Enabled: true, Reason: ReasonFullRollout, Info: info}
	}

	if !bucket.InPercentage(subject.ID, st.Feature, f.RolloutPercentage) {
		return Decision{Enabled: false, Reason: ReasonNotInRolloutPercentage, Info: info}
	}

	if health := e.healthGate(ctx, st); !health.Healthy {
		info.Detail = health.Detail
		return Decision{Enabled: false, Reason: ReasonHealthCheckFailed, Info: info}
	}
	return Decision{Enabled: true, Reason: ReasonInRolloutPercentage, Info: info}
}

func evaluateGeographic(st *Strategy, subject flag.Subject) Decision {
	cfg := st.Geographic
	info := &Info{Strategy: TypeGeographic, Status: st.Status}

	if subject.Country == "" {
		return Decision{Enabled: false, Reason: ReasonNoGeographicData, Info: info}
	}
	if len(cfg.IncludeRegions) > 0 && subject.Region == "" {
		return Decision{Enabled: false, Reason: ReasonNoGeographicData, Info: info}
	}

	// Exclusion always wins over inclusion.
	if slices.Contains(cfg.ExcludeCountries, subject.Country) ||
		(subject.Region != "" && slices.Contains(cfg.ExcludeRegions, subject.Region)) {
		return Decision{Enabled: false, Reason: ReasonNotInGeographicRollout, Info: info}
	}

	if len(cfg.IncludeCountries) > 0 && !slices.Contains(cfg.IncludeCountries, subject.Country) {
		return Decision{Enabled: false, Reason: ReasonNotInGeographicRollout, Info: info}
	}
	if len(cfg.IncludeRegions) > 0 && !slices.Contains(cfg.IncludeRegions, subject.Region) {
		return Decision{Enabled: false, Reason: ReasonNotInGeographicRollout, Info: info}
	}
	return Decision{Enabled: true, Reason: ReasonInGeographicRollout, Info: info}
}

func evaluateDemographic(st *Strategy, subject flag.Subject) Decision {
	cfg := st.Demographic
	info := &Info{Strategy: TypeDemographic, Status: st.Status}

	tierConstrained := len(cfg.IncludeTiers) > 0 || len(cfg.ExcludeTiers) > 0
	if tierConstrained && subject.Tier == "" {
		return Decision{Enabled: false, Reason: ReasonNoDemographicData, Info: info}
	}

	if slices.Contains(cfg.ExcludeTiers, subject.Tier) {
		return Decision{Enabled: false, Reason: ReasonNotInDemographicRollout, Info: info}
	}
	if len(cfg.IncludeTiers) > 0 && !slices.Contains(cfg.IncludeTiers, subject.Tier) {
		return Decision{Enabled: false, Reason: ReasonNotInDemographicRollout, Info: info}
	}

	for attr, allowed := range cfg.Attributes {
		value, ok := subject.Attributes[attr]
		if !ok {
			return Decision{Enabled: false, Reason: ReasonNoDemographicData, Info: info}
		}
		if !slices.Contains(allowed, value) {
			return Decision{Enabled: false, Reason: ReasonNotInDemographicRollout, Info: info}
		}
	}
	return Decision{Enabled: true, Reason: ReasonInDemographicRollout, Info: info}
}

func evaluateTimeWindow(st *Strategy, now time.Time) Decision {
	cfg := st.TimeWindow
	info := &Info{Strategy: TypeTimeBased, Status: st.Status}

	if cfg.Start != nil && now.Before(*cfg.Start) {
		return Decision{Enabled: false, Reason: ReasonOutsideTimeWindow, Info: info}
	}
	if cfg.End != nil && now.After(*cfg.End) {
		return Decision{Enabled: false, Reason: ReasonOutsideTimeWindow, Info: info}
	}
	if len(cfg.DaysOfWeek) > 0 && !slices.Contains(cfg.DaysOfWeek, now.Weekday()) {
		return Decision{Enabled: false, Reason: ReasonOutsideTimeWindow, Info: info}
	}
	return Decision{Enabled: true, Reason: ReasonInTimeWindow, Info: info}
}

func (e *Engine) evaluateCanary(ctx context.Context, st *Strategy, subject flag.Subject) Decision {
	pct := st.Canary.Percentage
	if pct == 0 {
		pct = DefaultCanaryPercentage
	}
	info := &Info{Strategy: TypeCanary, Status: st.Status, Percentage: pct}

	if !bucket.InPercentage(subject.ID, st.Feature, pct) {
		return Decision{Enabled: false, Reason: ReasonNotInCanary, Info: info}
	}

	if health := e.healthGate(ctx, st); !health.Healthy {
		// A sick canary is rolled back immediately and irreversibly; the
		// rollback happens before this evaluation returns.
		if err := e.Rollback(ctx, st.Feature, RollbackCanaryHealthFailure); err != nil {
			e.logger.ErrorContext(ctx, "canary rollback failed",
				slog.String("feature", st.Feature),
				slog.String("error", err.Error()))
		}
		info.Detail = health.Detail
		return Decision{Enabled: false, Reason: ReasonCanaryRolledBack, Info: info}
	}
	return Decision{Enabled: true, Reason: ReasonInCanary, Info: info}
}

func (e *Engine) healthGate(ctx context.Context, st *Strategy) healthResult {
	m, hasMetrics, err := e.metrics.Get(ctx, st.Feature)
	if err != nil {
		e.logger.ErrorContext(ctx, "metrics read failed during health gate",
			slog.String("feature", st.Feature),
			slog.String("error", err.Error()))
		hasMetrics = false
	}
	return evaluateHealth(st, m, hasMetrics, e.failOpenHealth)
}

// UpdateMetrics merges a partial telemetry snapshot for a feature.
func (e *Engine) UpdateMetrics(ctx context.Context, feature string, update MetricsUpdate) error {
	return e.metrics.Update(ctx, feature, update)
}

// Pause halts an active strategy and cancels its pending ticks.
func (e *Engine) Pause(ctx context.Context, feature string) error {
	if err := e.setStatus(ctx, feature, StatusPaused); err != nil {
		return err
	}
	if err := e.ticks.CancelByKey(ctx, "", feature); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "rollout strategy paused", slog.String("feature", feature))
	return nil
}

// Resume re-activates a paused strategy and reschedules its next tick.
// The rollout continues from the persisted percentage, never from zero.
func (e *Engine) Resume(ctx context.Context, feature string) error {
	st, err := e.strategies.Get(ctx, feature)
	if err != nil {
		return err
	}
	if err := e.setStatus(ctx, feature, StatusActive); err != nil {
		return err
	}

	now := e.now()
	switch st.Type {
	case TypePercentage:
		_, err = e.ticks.Create(ctx, schedule.KindRolloutIncrement, feature, now.Add(st.Percentage.IncrementInterval))
	case TypeCanary:
		_, err = e.ticks.Create(ctx, schedule.KindCanaryEvaluation, feature, now.Add(st.Canary.Duration))
	}
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "rollout strategy resumed", slog.String("feature", feature))
	return nil
}

// Rollback terminates a strategy: pending ticks are cancelled, the flag is
// forced disabled at 0%, and the status becomes rolled_back. Idempotent —
// rolling back a rolled-back strategy is a no-op. This is a business
// event, not an error.
func (e *Engine) Rollback(ctx context.Context, feature, reason string) error {
	st, err := e.strategies.Get(ctx, feature)
	if err != nil {
		return err
	}
	if st.Status == StatusRolledBack {
		return nil
	}
	if !CanTransition(st.Status, StatusRolledBack) {
		return ErrInvalidTransition
	}

	if err := e.ticks.CancelByKey(ctx, "", feature); err != nil {
		return err
	}

	enabled := false
	pct := 0
	if _, err := e.flags.Update(ctx, feature, flag.Update{Enabled: &enabled, RolloutPercentage: &pct}, engineActor); err != nil {
		return err
	}

	if err := e.setStatus(ctx, feature, StatusRolledBack); err != nil {
		return err
	}

	if err := e.alerts.Publish(ctx, alert.Message{
		Topic:    alert.TopicRolloutRollback,
		Subject:  feature,
		Severity: alert.SeverityWarning,
		Body:     reason,
		At:       e.now(),
	}); err != nil {
		e.logger.ErrorContext(ctx, "rollback alert failed",
			slog.String("feature", feature),
			slog.String("error", err.Error()))
	}

	e.logger.WarnContext(ctx, "rollout strategy rolled back",
		slog.String("feature", feature),
		slog.String("reason", reason))
	return nil
}

// GetStrategy returns the strategy for a feature.
func (e *Engine) GetStrategy(ctx context.Context, feature string) (*Strategy, error) {
	return e.strategies.Get(ctx, feature)
}

// Resync recomputes missing ticks for active strategies from persisted
// state. Call once on startup, before the poller runs: in-process timers
// are only a cache of "what to poll next", the records are the truth.
func (e *Engine) Resync(ctx context.Context) error {
	strategies, err := e.strategies.List(ctx)
	if err != nil {
		return err
	}

	now := e.now()
	for _, st := range strategies {
		if st.Status != StatusActive {
			continue
		}

		var kind schedule.Kind
		var runAt time.Time
		switch st.Type {
		case TypePercentage:
			kind = schedule.KindRolloutIncrement
			runAt = now.Add(st.Percentage.IncrementInterval)
		case TypeCanary:
			kind = schedule.KindCanaryEvaluation
			runAt = st.CreatedAt.Add(st.Canary.Duration)
			if runAt.Before(now) {
				runAt = now
			}
		default:
			continue
		}

		pending, err := e.ticks.Pending(ctx, kind, st.Feature)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			continue
		}

		if _, err := e.ticks.Create(ctx, kind, st.Feature, runAt); err != nil {
			return err
		}
		e.logger.InfoContext(ctx, "rescheduled lost tick",
			slog.String("feature", st.Feature),
			slog.String("kind", string(kind)))
	}
	return nil
}

// handleIncrement runs one percentage increment tick. A tick racing a
// pause or rollback observes the non-active status and no-ops.
func (e *Engine) handleIncrement(ctx context.Context, tick schedule.Tick) error {
	st, err := e.strategies.Get(ctx, tick.Key)
	if errors.Is(err, ErrStrategyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.Status != StatusActive || st.Type != TypePercentage {
		return nil
	}

	if health := e.healthGate(ctx, st); !health.Healthy {
		e.logger.WarnContext(ctx, "increment blocked by health check, pausing rollout",
			slog.String("feature", st.Feature),
			slog.String("detail", health.Detail))
		return e.Pause(ctx, st.Feature)
	}

	f, err := e.flags.Get(ctx, st.Feature)
	if err != nil {
		return err
	}

	next := min(100, f.RolloutPercentage+st.Percentage.IncrementPercentage)
	if _, err := e.flags.SetRolloutPercentage(ctx, st.Feature, next, engineActor); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "rollout percentage incremented",
		slog.String("feature", st.Feature),
		slog.Int("percentage", next))

	if next >= 100 {
		return e.setStatus(ctx, st.Feature, StatusCompleted)
	}
	_, err = e.ticks.Create(ctx, schedule.KindRolloutIncrement, st.Feature, e.now().Add(st.Percentage.IncrementInterval))
	return err
}

// handleCanaryEvaluation decides promotion or rollback at the end of the
// canary soak period.
func (e *Engine) handleCanaryEvaluation(ctx context.Context, tick schedule.Tick) error {
	st, err := e.strategies.Get(ctx, tick.Key)
	if errors.Is(err, ErrStrategyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.Status != StatusActive || st.Type != TypeCanary {
		return nil
	}

	m, _, err := e.metrics.Get(ctx, st.Feature)
	if err != nil {
		return err
	}

	if !st.Canary.Criteria.Met(m) {
		e.logger.WarnContext(ctx, "canary promotion criteria not met",
			slog.String("feature", st.Feature),
			slog.Float64("success_rate", m.SuccessRate),
			slog.Float64("error_rate", m.ErrorRate),
			slog.Int64("sample_size", m.TotalUsersEnrolled))
		return e.Rollback(ctx, st.Feature, RollbackCanaryPromotionFailed)
	}

	if _, err := e.flags.SetRolloutPercentage(ctx, st.Feature, 100, engineActor); err != nil {
		return err
	}
	if err := e.setStatus(ctx, st.Feature, StatusCompleted); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "canary promoted to full rollout",
		slog.String("feature", st.Feature))
	return nil
}

// setStatus transitions the strategy status with an optimistic retry loop
// and lifecycle validation.
func (e *Engine) setStatus(ctx context.Context, feature string, to Status) error {
	for attempt := 0; attempt < 3; attempt++ {
		st, err := e.strategies.Get(ctx, feature)
		if err != nil {
			return err
		}
		if st.Status == to {
			return nil
		}
		if !CanTransition(st.Status, to) {
			return ErrInvalidTransition
		}

		st.Status = to
		st.UpdatedAt = e.now()

		err = e.strategies.Update(ctx, st)
		if errors.Is(err, ErrUpdateConflict) {
			continue
		}
		return err
	}
	return ErrUpdateConflict
}
