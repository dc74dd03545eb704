package govern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekit/pkg/alert"
	"github.com/dmitrymomot/gatekit/pkg/schedule"
)

// emergencyRuleID marks actions fired by the emergency cost limit rather
// than a configured rule.
const emergencyRuleID = "emergency"

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

// WithAlerts sets the notification publisher for shutdown events.
func WithAlerts(publisher alert.Publisher) EngineOption {
	return func(e *Engine) {
		if publisher != nil {
			e.alerts = publisher
		}
	}
}

// Engine runs the cost-governance rule pass and manages the lifecycle of
// executed control actions.
type Engine struct {
	configs *ConfigStore
	actions *ActionStore
	costs   *CostStore
	source  Source
	ticks   *schedule.Store
	alerts  alert.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a governance engine. The source supplies the default
// config bootstrapped for subjects seen for the first time.
func NewEngine(configs *ConfigStore, actions *ActionStore, costs *CostStore, source Source, ticks *schedule.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		configs: configs,
		actions: actions,
		costs:   costs,
		source:  source,
		ticks:   ticks,
		alerts:  alert.NopPublisher{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandlers wires the automatic-reversal handler into the poller.
func (e *Engine) RegisterHandlers(p *schedule.Poller) {
	p.Handle(schedule.KindActionReversal, e.handleReversal)
}

// Execute runs one governance pass for a cost event. Enabled rules are
// evaluated in descending priority order; every rule whose conditions and
// trigger hold fires and is recorded as an Action. A fired shutdown halts
// the pass. Rules with an action already active for them are skipped, so
// repeated sweeps over the same cost do not stack mitigations.
func (e *Engine) Execute(ctx context.Context, event CostEvent) ([]Action, error) {
	if event.SubjectID == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("subject id cannot be empty"))
	}
	if event.Period == "" {
		event.Period = PeriodDay
	}

	cfg, err := e.loadOrBootstrap(ctx, event.SubjectID)
	if err != nil {
		return nil, err
	}

	now := e.now()

	// The sample feeds velocity and spike math on this and later passes.
	// A failed write degrades those triggers, it does not block the pass.
	if err := e.costs.Record(ctx, event.SubjectID, CostSample{Cost: event.CurrentCost, At: now}); err != nil {
		e.logger.ErrorContext(ctx, "cost sample write failed",
			slog.String("subject", event.SubjectID),
			slog.String("error", err.Error()))
	}

	if !cfg.Enabled {
		return nil, nil
	}

	activeRules, err := e.activeRuleIDs(ctx, event.SubjectID, now)
	if err != nil {
		return nil, err
	}

	var fired []Action

	if cfg.Emergency.Enabled && cfg.Emergency.CostLimit > 0 &&
		event.CurrentCost >= cfg.Emergency.CostLimit && !activeRules[emergencyRuleID] {
		action, err := e.executeAction(ctx, event, emergencyRuleID, ActionSpec{
			Type:     ActionShutdown,
			Shutdown: &ShutdownSpec{},
		}, now)
		if err != nil {
			return fired, err
		}
		return append(fired, *action), nil
	}

	for _, rule := range sortedRules(cfg.Rules) {
		if !rule.Enabled || activeRules[rule.ID] {
			continue
		}
		if !conditionsHold(rule.Conditions, now, event) {
			continue
		}
		fires, err := e.triggerFires(ctx, cfg, event, rule.Trigger, now)
		if err != nil {
			return fired, err
		}
		if !fires {
			continue
		}

		action, err := e.executeAction(ctx, event, rule.ID, rule.Action, now)
		if err != nil {
			return fired, err
		}
		fired = append(fired, *action)

		// Shutdown supersedes every lesser mitigation below it.
		if rule.Action.Type == ActionShutdown {
			break
		}
	}
	return fired, nil
}

func (e *Engine) loadOrBootstrap(ctx context.Context, subjectID string) (*Config, error) {
	cfg, err := e.configs.Get(ctx, subjectID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}

	cfg, err = e.source.Defaults(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap governance config %q: %w", subjectID, err)
	}
	cfg.SubjectID = subjectID
	cfg.UpdatedAt = e.now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.configs.Put(ctx, cfg); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "governance config bootstrapped",
		slog.String("subject", subjectID))
	return cfg, nil
}

// activeRuleIDs maps rule IDs to whether they have a currently active
// action, so a rule does not re-fire while its mitigation still applies.
func (e *Engine) activeRuleIDs(ctx context.Context, subjectID string, now time.Time) (map[string]bool, error) {
	actions, err := e.actions.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(actions))
	for _, a := range actions {
		if a.activeAt(now) {
			active[a.RuleID] = true
		}
	}
	return active, nil
}

func sortedRules(rules []Rule) []Rule {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

func conditionsHold(conditions []Condition, now time.Time, event CostEvent) bool {
	for _, c := range conditions {
		if !c.holds(now, event) {
			return false
		}
	}
	return true
}

// triggerFires evaluates the cost predicate. time_based triggers belong
// to an external scheduler and never fire here.
func (e *Engine) triggerFires(ctx context.Context, cfg *Config, event CostEvent, t Trigger, now time.Time) (bool, error) {
	period := t.Period
	if period == "" {
		period = event.Period
	}

	switch t.Type {
	case TriggerCostThreshold:
		return t.Comparison.holds(event.CurrentCost, t.Value), nil

	case TriggerCostVelocity:
		samples, err := e.costs.Window(ctx, event.SubjectID, now.Add(-period.Duration()))
		if err != nil {
			return false, err
		}
		if len(samples) < 2 {
			return false, nil
		}
		rate := (samples[len(samples)-1].Cost - samples[0].Cost) / period.Hours()
		return t.Comparison.holds(rate, t.Value), nil

	case TriggerUsageSpike:
		samples, err := e.costs.Window(ctx, event.SubjectID, now.Add(-period.Duration()))
		if err != nil {
			return false, err
		}
		if len(samples) < 3 {
			return false, nil
		}
		latest := samples[len(samples)-1].Cost
		var sum float64
		for _, s := range samples[:len(samples)-1] {
			sum += s.Cost
		}
		mean := sum / float64(len(samples)-1)
		if mean <= 0 {
			return false, nil
		}
		return t.Comparison.holds(latest, t.Value*mean), nil

	case TriggerBudgetPercentage:
		budget, ok := cfg.Budgets[period]
		if !ok || budget <= 0 {
			return false, nil
		}
		return t.Comparison.holds(event.CurrentCost/budget*100, t.Value), nil

	default:
		return false, nil
	}
}

func (e *Engine) executeAction(ctx context.Context, event CostEvent, ruleID string, spec ActionSpec, now time.Time) (*Action, error) {
	action := &Action{
		ID:         uuid.New(),
		SubjectID:  event.SubjectID,
		RuleID:     ruleID,
		Type:       spec.Type,
		Spec:       spec,
		ExecutedAt: now,
		Status:     StatusActive,
		Impact:     estimateImpact(spec, event.CurrentCost),
	}
	if spec.Duration != nil {
		expires := now.Add(*spec.Duration)
		action.ExpiresAt = &expires
	}

	if err := e.actions.Create(ctx, action); err != nil {
		return nil, err
	}

	if spec.Reversible && action.ExpiresAt != nil {
		if _, err := e.ticks.Create(ctx, schedule.KindActionReversal, action.ID.String(), *action.ExpiresAt); err != nil {
			return nil, err
		}
	}

	e.logger.InfoContext(ctx, "control action executed",
		slog.String("subject", event.SubjectID),
		slog.String("rule", ruleID),
		slog.String("action", string(spec.Type)),
		slog.Float64("cost", event.CurrentCost))

	if spec.Type == ActionShutdown {
		topic := alert.TopicCostControl
		if spec.Shutdown != nil && spec.Shutdown.NotifyTopic != "" {
			topic = spec.Shutdown.NotifyTopic
		}
		// Notification is best-effort: the recorded shutdown is the
		// critical path, a down alert channel must not undo it.
		if err := e.alerts.Publish(ctx, alert.Message{
			Topic:    topic,
			Subject:  event.SubjectID,
			Severity: alert.SeverityCritical,
			Body:     fmt.Sprintf("cost shutdown fired by rule %q at cost %.2f", ruleID, event.CurrentCost),
			At:       now,
		}); err != nil {
			e.logger.ErrorContext(ctx, "shutdown alert failed",
				slog.String("subject", event.SubjectID),
				slog.String("error", err.Error()))
		}
	}
	return action, nil
}

// estimateImpact produces the reporting estimate attached to an action.
// These are planning numbers, not accounting entries.
func estimateImpact(spec ActionSpec, currentCost float64) Impact {
	switch spec.Type {
	case ActionThrottle:
		return Impact{CostSavings: currentCost * 0.25}
	case ActionDegrade:
		factor := 0.15 * float64(spec.Degrade.Level)
		if factor > 0.6 {
			factor = 0.6
		}
		return Impact{CostSavings: currentCost * factor}
	case ActionQueue:
		return Impact{CostSavings: currentCost * 0.1}
	case ActionReject:
		return Impact{CostSavings: currentCost * 0.5}
	case ActionShutdown:
		return Impact{CostSavings: currentCost}
	default:
		return Impact{}
	}
}

// Reverse marks an active action reversed. Reversing an already reversed
// or expired action is a no-op: restrictions are derived at query time
// from the active set, so flipping the record is the whole operation.
func (e *Engine) Reverse(ctx context.Context, actionID uuid.UUID) error {
	for attempt := 0; attempt < 3; attempt++ {
		action, err := e.actions.Get(ctx, actionID)
		if err != nil {
			return err
		}
		if action.Status != StatusActive {
			return nil
		}

		now := e.now()
		action.Status = StatusReversed
		action.ReversedAt = &now

		err = e.actions.Update(ctx, action)
		if errors.Is(err, ErrUpdateConflict) {
			continue
		}
		if err != nil {
			return err
		}
		e.logger.InfoContext(ctx, "control action reversed",
			slog.String("subject", action.SubjectID),
			slog.String("action_id", actionID.String()))
		return nil
	}
	return ErrUpdateConflict
}

// handleReversal runs a scheduled automatic reversal tick.
func (e *Engine) handleReversal(ctx context.Context, tick schedule.Tick) error {
	actionID, err := uuid.Parse(tick.Key)
	if err != nil {
		e.logger.WarnContext(ctx, "reversal tick with malformed action id",
			slog.String("key", tick.Key))
		return nil
	}
	err = e.Reverse(ctx, actionID)
	if errors.Is(err, ErrActionNotFound) {
		return nil
	}
	return err
}

// ActiveRestrictions derives the effective limits for a subject from its
// currently active actions. The second return value reports whether any
// restriction applies. The highest active degradation level supplies the
// base restrictions; an active throttle overrides the rate when stricter;
// active reject and shutdown actions block requests outright.
func (e *Engine) ActiveRestrictions(ctx context.Context, subjectID string) (Restrictions, bool, error) {
	actions, err := e.actions.ListBySubject(ctx, subjectID)
	if err != nil {
		return Restrictions{}, false, err
	}

	now := e.now()
	var active []*Action
	for _, a := range actions {
		if a.activeAt(now) {
			active = append(active, a)
			continue
		}
		// Lazily settle records whose duration ran out without a
		// reversal tick. Best effort, conflicts are fine.
		if a.Status == StatusActive {
			a.Status = StatusExpired
			if err := e.actions.Update(ctx, a); err != nil && !errors.Is(err, ErrUpdateConflict) {
				e.logger.ErrorContext(ctx, "expiring stale action failed",
					slog.String("action_id", a.ID.String()),
					slog.String("error", err.Error()))
			}
		}
	}
	if len(active) == 0 {
		return Restrictions{}, false, nil
	}

	var r Restrictions

	highestLevel := 0
	for _, a := range active {
		if a.Type == ActionDegrade && a.Spec.Degrade != nil && a.Spec.Degrade.Level > highestLevel {
			highestLevel = a.Spec.Degrade.Level
		}
	}
	if highestLevel > 0 {
		if cfg, err := e.configs.Get(ctx, subjectID); err == nil {
			if rung, ok := degradationRung(cfg.Degradation, highestLevel); ok {
				r = rung.Restrictions
			}
		} else if !errors.Is(err, ErrConfigNotFound) {
			return Restrictions{}, false, err
		}
	}

	for _, a := range active {
		switch a.Type {
		case ActionThrottle:
			if a.Spec.Throttle == nil {
				continue
			}
			rate := a.Spec.Throttle.MaxRequestsPerMinute
			if r.MaxRequestsPerMinute == 0 || rate < r.MaxRequestsPerMinute {
				r.MaxRequestsPerMinute = rate
			}
		case ActionReject:
			r.Blocked = true
		case ActionShutdown:
			r.Blocked = true
			r.CacheOnly = true
		}
	}
	return r, true, nil
}

// degradationRung finds the highest ladder rung at or below the level.
func degradationRung(ladder []DegradationLevel, level int) (DegradationLevel, bool) {
	var best DegradationLevel
	found := false
	for _, rung := range ladder {
		if rung.Level <= level && (!found || rung.Level > best.Level) {
			best = rung
			found = true
		}
	}
	return best, found
}

// GetConfig returns the subject's stored governance config without
// bootstrapping.
func (e *Engine) GetConfig(ctx context.Context, subjectID string) (*Config, error) {
	return e.configs.Get(ctx, subjectID)
}

// SetConfig validates and persists a governance config. A config with a
// version updates conditionally; a fresh one is written outright.
func (e *Engine) SetConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = e.now()
	if cfg.Version > 0 {
		return e.configs.Update(ctx, cfg)
	}
	return e.configs.Put(ctx, cfg)
}

// Actions returns the subject's recorded actions, newest first.
func (e *Engine) Actions(ctx context.Context, subjectID string) ([]*Action, error) {
	return e.actions.ListBySubject(ctx, subjectID)
}

// Reset wipes every governance record for a subject: config, actions,
// pending reversal ticks and the cost window. This is the only deletion
// path for governance state.
func (e *Engine) Reset(ctx context.Context, subjectID string) error {
	actions, err := e.actions.ListBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := e.ticks.CancelByKey(ctx, schedule.KindActionReversal, a.ID.String()); err != nil {
			return err
		}
	}
	if err := e.actions.DeleteBySubject(ctx, subjectID); err != nil {
		return err
	}
	if err := e.costs.Delete(ctx, subjectID); err != nil {
		return err
	}
	if err := e.configs.Delete(ctx, subjectID); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "governance state reset", slog.String("subject", subjectID))
	return nil
}
