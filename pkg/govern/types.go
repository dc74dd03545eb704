package govern

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Period is the accounting window a cost figure refers to.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Hours returns the window length used by velocity math. Unknown periods
// fall back to a day.
func (p Period) Hours() float64 {
	switch p {
	case PeriodHour:
		return 1
	case PeriodWeek:
		return 7 * 24
	case PeriodMonth:
		return 30 * 24
	default:
		return 24
	}
}

// Duration returns the period as a time.Duration.
func (p Period) Duration() time.Duration {
	return time.Duration(p.Hours() * float64(time.Hour))
}

// TriggerType selects the cost predicate a rule watches.
type TriggerType string

const (
	TriggerCostThreshold    TriggerType = "cost_threshold"
	TriggerCostVelocity     TriggerType = "cost_velocity"
	TriggerUsageSpike       TriggerType = "usage_spike"
	TriggerBudgetPercentage TriggerType = "budget_percentage"
	// TriggerTimeBased rules are driven by an external scheduler and
	// never fire inside Execute.
	TriggerTimeBased TriggerType = "time_based"
)

// Comparison refines the trigger predicate. Empty means "greater than or
// equal", which covers the common threshold shape.
type Comparison string

const (
	GreaterOrEqual Comparison = ""
	GreaterThan    Comparison = "greater_than"
	LessThan       Comparison = "less_than"
	Equals         Comparison = "equals"
)

func (c Comparison) holds(value, threshold float64) bool {
	switch c {
	case GreaterThan:
		return value > threshold
	case LessThan:
		return value < threshold
	case Equals:
		return value == threshold
	default:
		return value >= threshold
	}
}

// Trigger is the cost predicate of a rule.
type Trigger struct {
	Type       TriggerType `json:"type" yaml:"type"`
	Value      float64     `json:"value" yaml:"value"`
	Period     Period      `json:"period,omitempty" yaml:"period,omitempty"`
	Comparison Comparison  `json:"comparison,omitempty" yaml:"comparison,omitempty"`
}

// ConditionType selects which fact a rule condition checks.
type ConditionType string

const (
	ConditionTimeOfDay ConditionType = "time_of_day"
	ConditionDayOfWeek ConditionType = "day_of_week"
	ConditionUserTier  ConditionType = "user_tier"
	ConditionOperation ConditionType = "operation"
	ConditionModel     ConditionType = "model"
	ConditionSource    ConditionType = "source"
)

// Condition gates a rule on a fact about the cost event. All conditions
// of a rule must hold for the trigger to be consulted. A condition whose
// fact is absent from the event does not hold.
type Condition struct {
	Type ConditionType `json:"type" yaml:"type"`

	// Start and End bound a time_of_day window in "HH:MM" 24h notation.
	// A window with Start after End wraps past midnight.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`

	// Days lists the allowed weekdays for day_of_week.
	Days []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"`

	// Values lists the accepted values for user_tier, operation, model
	// and source conditions.
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// ActionType identifies the mitigation a rule applies.
type ActionType string

const (
	ActionThrottle ActionType = "throttle"
	ActionDegrade  ActionType = "degrade"
	ActionQueue    ActionType = "queue"
	ActionReject   ActionType = "reject"
	ActionShutdown ActionType = "shutdown"
)

// ThrottleSpec caps the subject's request rate.
type ThrottleSpec struct {
	MaxRequestsPerMinute int `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
}

// DegradeSpec applies a level from the degradation ladder.
type DegradeSpec struct {
	Level int `json:"level" yaml:"level"`
}

// QueueSpec defers requests instead of serving them immediately.
type QueueSpec struct {
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
}

// RejectSpec refuses requests with an operator-visible message.
type RejectSpec struct {
	Message string `json:"message" yaml:"message"`
}

// ShutdownSpec disables the subject's cost-bearing features entirely.
type ShutdownSpec struct {
	NotifyTopic string `json:"notify_topic,omitempty" yaml:"notify_topic,omitempty"`
}

// ActionSpec is a tagged union: exactly one mitigation field must be set,
// matching Type. Validated when the rule is defined, not when it fires.
type ActionSpec struct {
	Type     ActionType    `json:"type" yaml:"type"`
	Throttle *ThrottleSpec `json:"throttle,omitempty" yaml:"throttle,omitempty"`
	Degrade  *DegradeSpec  `json:"degrade,omitempty" yaml:"degrade,omitempty"`
	Queue    *QueueSpec    `json:"queue,omitempty" yaml:"queue,omitempty"`
	Reject   *RejectSpec   `json:"reject,omitempty" yaml:"reject,omitempty"`
	Shutdown *ShutdownSpec `json:"shutdown,omitempty" yaml:"shutdown,omitempty"`

	// Duration bounds how long the executed action stays active.
	// Reversible actions with a duration are auto-reversed when it ends.
	Duration   *time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Reversible bool           `json:"reversible,omitempty" yaml:"reversible,omitempty"`
}

// Validate checks the spec carries exactly the configuration its type
// requires.
func (a ActionSpec) Validate() error {
	set := 0
	for _, ok := range []bool{
		a.Throttle != nil, a.Degrade != nil, a.Queue != nil,
		a.Reject != nil, a.Shutdown != nil,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return errors.Join(ErrInvalidRule,
			fmt.Errorf("exactly one action configuration required, got %d", set))
	}

	switch a.Type {
	case ActionThrottle:
		if a.Throttle == nil {
			return actionMismatch(a.Type)
		}
		if a.Throttle.MaxRequestsPerMinute <= 0 {
			return errors.Join(ErrInvalidRule, errors.New("throttle rate must be positive"))
		}
	case ActionDegrade:
		if a.Degrade == nil {
			return actionMismatch(a.Type)
		}
		if a.Degrade.Level <= 0 {
			return errors.Join(ErrInvalidRule, errors.New("degradation level must be positive"))
		}
	case ActionQueue:
		if a.Queue == nil {
			return actionMismatch(a.Type)
		}
		if a.Queue.MaxDelay <= 0 {
			return errors.Join(ErrInvalidRule, errors.New("queue delay must be positive"))
		}
	case ActionReject:
		if a.Reject == nil {
			return actionMismatch(a.Type)
		}
	case ActionShutdown:
		if a.Shutdown == nil {
			return actionMismatch(a.Type)
		}
	default:
		return errors.Join(ErrInvalidRule, fmt.Errorf("unknown action type %q", a.Type))
	}

	if a.Duration != nil && *a.Duration <= 0 {
		return errors.Join(ErrInvalidRule, errors.New("action duration must be positive"))
	}
	return nil
}

func actionMismatch(t ActionType) error {
	return errors.Join(ErrInvalidRule,
		fmt.Errorf("action type %q requires its matching configuration", t))
}

// Rule binds a trigger and conditions to a mitigation.
type Rule struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Trigger    Trigger     `json:"trigger" yaml:"trigger"`
	Action     ActionSpec  `json:"action" yaml:"action"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Priority   int         `json:"priority" yaml:"priority"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
}

// Validate checks the rule is well-formed.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.Join(ErrInvalidRule, errors.New("rule id cannot be empty"))
	}
	switch r.Trigger.Type {
	case TriggerCostThreshold, TriggerCostVelocity, TriggerUsageSpike,
		TriggerBudgetPercentage, TriggerTimeBased:
	default:
		return errors.Join(ErrInvalidRule, fmt.Errorf("unknown trigger type %q", r.Trigger.Type))
	}
	return r.Action.Validate()
}

// Restrictions is the effective limit set derived from active actions.
// The zero value means unrestricted.
type Restrictions struct {
	MaxRequestsPerMinute int      `json:"max_requests_per_minute,omitempty" yaml:"max_requests_per_minute,omitempty"`
	AllowedModels        []string `json:"allowed_models,omitempty" yaml:"allowed_models,omitempty"`
	AllowedOperations    []string `json:"allowed_operations,omitempty" yaml:"allowed_operations,omitempty"`
	MaxTokensPerRequest  int      `json:"max_tokens_per_request,omitempty" yaml:"max_tokens_per_request,omitempty"`
	CacheOnly            bool     `json:"cache_only,omitempty" yaml:"cache_only,omitempty"`

	// Blocked is set when an active reject or shutdown action refuses
	// requests outright.
	Blocked bool `json:"blocked,omitempty" yaml:"blocked,omitempty"`
}

// DegradationLevel is one rung of the graceful-degradation ladder.
// Levels are looked up by the highest threshold the current cost crossed.
type DegradationLevel struct {
	Level         int          `json:"level" yaml:"level"`
	CostThreshold float64      `json:"cost_threshold" yaml:"cost_threshold"`
	Restrictions  Restrictions `json:"restrictions" yaml:"restrictions"`
}

// EmergencySettings is the per-subject circuit breaker checked before any
// rule runs. Crossing the limit forces a shutdown regardless of rules.
type EmergencySettings struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	CostLimit float64 `json:"cost_limit" yaml:"cost_limit"`
}

// Config is the durable governance configuration for one subject.
type Config struct {
	SubjectID   string             `json:"subject_id"`
	Enabled     bool               `json:"enabled" yaml:"enabled"`
	Rules       []Rule             `json:"rules" yaml:"rules"`
	Emergency   EmergencySettings  `json:"emergency,omitempty" yaml:"emergency,omitempty"`
	Degradation []DegradationLevel `json:"degradation,omitempty" yaml:"degradation,omitempty"`
	Budgets     map[Period]float64 `json:"budgets,omitempty" yaml:"budgets,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at,omitzero"`

	// Version is the optimistic-concurrency token assigned by the store.
	Version int64 `json:"-"`
}

// Validate checks the config and every rule in it.
func (c *Config) Validate() error {
	if c == nil || c.SubjectID == "" {
		return errors.Join(ErrInvalidConfig, errors.New("subject id cannot be empty"))
	}
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	return nil
}

// ActionStatus is the lifecycle state of an executed control action.
type ActionStatus string

const (
	StatusActive   ActionStatus = "active"
	StatusReversed ActionStatus = "reversed"
	StatusExpired  ActionStatus = "expired"
)

// Impact is a rough planning estimate of what an action saved. It is
// reporting data, not a ledger entry.
type Impact struct {
	CostSavings       float64 `json:"cost_savings"`
	RequestsBlocked   int64   `json:"requests_blocked"`
	RequestsThrottled int64   `json:"requests_throttled"`
}

// Action is the durable record of one rule firing. Spec is a copy of the
// rule's action at execution time, so later rule edits never change what
// an active action enforces.
type Action struct {
	ID         uuid.UUID    `json:"id"`
	SubjectID  string       `json:"subject_id"`
	RuleID     string       `json:"rule_id"`
	Type       ActionType   `json:"type"`
	Spec       ActionSpec   `json:"spec"`
	ExecutedAt time.Time    `json:"executed_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	ReversedAt *time.Time   `json:"reversed_at,omitempty"`
	Status     ActionStatus `json:"status"`
	Impact     Impact       `json:"impact"`

	// Version is the optimistic-concurrency token assigned by the store.
	Version int64 `json:"-"`
}

// activeAt reports whether the action still applies at the given instant.
func (a Action) activeAt(now time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// CostEvent is one observation from the cost-accounting pipeline. The
// usage facts (Tier, Operation, Model, Source) are optional; conditions
// that need an absent fact simply do not hold.
type CostEvent struct {
	SubjectID   string  `json:"subject_id"`
	CurrentCost float64 `json:"current_cost"`
	Period      Period  `json:"period"`
	Tier        string  `json:"tier,omitempty"`
	Operation   string  `json:"operation,omitempty"`
	Model       string  `json:"model,omitempty"`
	Source      string  `json:"source,omitempty"`
}
