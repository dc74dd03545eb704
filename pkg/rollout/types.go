package rollout

import (
	"errors"
	"fmt"
	"time"
)

// StrategyType selects how exposure is decided.
type StrategyType string

const (
	TypePercentage  StrategyType = "percentage"
	TypeGeographic  StrategyType = "geographic"
	TypeDemographic StrategyType = "demographic"
	TypeTimeBased   StrategyType = "time_based"
	TypeCanary      StrategyType = "canary"
)

// Status is the strategy lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusRolledBack Status = "rolled_back"
)

// DefaultCanaryPercentage is used when a canary config omits Percentage.
const DefaultCanaryPercentage = 5

// PercentageConfig drives an incremental percentage rollout.
type PercentageConfig struct {
	InitialPercentage   int           `json:"initial_percentage"`
	IncrementPercentage int           `json:"increment_percentage"`
	IncrementInterval   time.Duration `json:"increment_interval"`
}

// GeographicConfig targets by country and region. Exclusion lists take
// precedence over inclusion lists; empty inclusion lists admit everyone
// not excluded.
type GeographicConfig struct {
	IncludeCountries []string `json:"include_countries,omitempty"`
	ExcludeCountries []string `json:"exclude_countries,omitempty"`
	IncludeRegions   []string `json:"include_regions,omitempty"`
	ExcludeRegions   []string `json:"exclude_regions,omitempty"`
}

// DemographicConfig targets by subscription tier and arbitrary subject
// attributes. Exclusion takes precedence; attribute constraints require
// the subject attribute to be one of the allowed values.
type DemographicConfig struct {
	IncludeTiers []string            `json:"include_tiers,omitempty"`
	ExcludeTiers []string            `json:"exclude_tiers,omitempty"`
	Attributes   map[string][]string `json:"attributes,omitempty"`
}

// TimeConfig limits exposure to a time window and/or days of the week.
// Absent bounds impose no constraint.
type TimeConfig struct {
	Start      *time.Time     `json:"start,omitempty"`
	End        *time.Time     `json:"end,omitempty"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
}

// PromotionCriteria are the thresholds a canary must clear, all
// simultaneously, to be promoted to 100%.
type PromotionCriteria struct {
	MinSuccessRate      float64       `json:"min_success_rate"`
	MaxErrorRate        float64       `json:"max_error_rate"`
	MaxResponseTime     time.Duration `json:"max_response_time"`
	MinUserSatisfaction float64       `json:"min_user_satisfaction"`
	MinSampleSize       int64         `json:"min_sample_size"`
}

// Met reports whether the metrics snapshot clears every bound.
func (c PromotionCriteria) Met(m Metrics) bool {
	if m.SuccessRate < c.MinSuccessRate {
		return false
	}
	if m.ErrorRate > c.MaxErrorRate {
		return false
	}
	if c.MaxResponseTime > 0 && m.AverageResponseTime > c.MaxResponseTime {
		return false
	}
	if m.UserSatisfactionScore < c.MinUserSatisfaction {
		return false
	}
	if m.TotalUsersEnrolled < c.MinSampleSize {
		return false
	}
	return true
}

// CanaryConfig drives a canary release: a fixed small exposure, a soak
// duration, then promotion or rollback.
type CanaryConfig struct {
	Percentage int               `json:"percentage"`
	Duration   time.Duration     `json:"duration"`
	Criteria   PromotionCriteria `json:"criteria"`
}

// CheckType selects which metric a health check reads.
type CheckType string

const (
	CheckErrorRate        CheckType = "error_rate"
	CheckResponseTime     CheckType = "response_time"
	CheckCost             CheckType = "cost"
	CheckUserSatisfaction CheckType = "user_satisfaction"
	CheckCustom           CheckType = "custom"
)

// Comparison expresses the healthy condition relative to the threshold.
type Comparison string

const (
	LessThan    Comparison = "less_than"
	GreaterThan Comparison = "greater_than"
	Equals      Comparison = "equals"
)

// HealthCheck is a pure predicate over a metrics snapshot. The check
// passes while "metric Comparison Threshold" holds.
type HealthCheck struct {
	Name          string     `json:"name"`
	Type          CheckType  `json:"type"`
	Threshold     float64    `json:"threshold"`
	Comparison    Comparison `json:"comparison"`
	WindowMinutes int        `json:"window_minutes,omitempty"`
	Enabled       bool       `json:"enabled"`
}

// Strategy is the durable rollout policy for one feature. Exactly one
// type-specific configuration must be set, matching Type.
type Strategy struct {
	Feature      string             `json:"feature"`
	Type         StrategyType       `json:"type"`
	Percentage   *PercentageConfig  `json:"percentage,omitempty"`
	Geographic   *GeographicConfig  `json:"geographic,omitempty"`
	Demographic  *DemographicConfig `json:"demographic,omitempty"`
	TimeWindow   *TimeConfig        `json:"time_window,omitempty"`
	Canary       *CanaryConfig      `json:"canary,omitempty"`
	HealthChecks []HealthCheck      `json:"health_checks,omitempty"`
	Status       Status             `json:"status"`
	CreatedAt    time.Time          `json:"created_at,omitzero"`
	UpdatedAt    time.Time          `json:"updated_at,omitzero"`

	// Version is the optimistic-concurrency token assigned by the store.
	Version int64 `json:"-"`
}

// Validate checks the strategy is well-formed at write time.
func (s *Strategy) Validate() error {
	if s == nil || s.Feature == "" {
		return errors.Join(ErrInvalidStrategy, errors.New("feature name cannot be empty"))
	}

	configs := 0
	for _, set := range []bool{
		s.Percentage != nil, s.Geographic != nil, s.Demographic != nil,
		s.TimeWindow != nil, s.Canary != nil,
	} {
		if set {
			configs++
		}
	}
	if configs != 1 {
		return errors.Join(ErrInvalidStrategy,
			fmt.Errorf("exactly one strategy configuration required, got %d", configs))
	}

	switch s.Type {
	case TypePercentage:
		if s.Percentage == nil {
			return typeMismatch(s.Type)
		}
		if s.Percentage.IncrementPercentage <= 0 {
			return errors.Join(ErrInvalidStrategy, errors.New("increment percentage must be positive"))
		}
		if s.Percentage.IncrementInterval <= 0 {
			return errors.Join(ErrInvalidStrategy, errors.New("increment interval must be positive"))
		}
		if s.Percentage.InitialPercentage < 0 || s.Percentage.InitialPercentage > 100 {
			return errors.Join(ErrInvalidStrategy, errors.New("initial percentage out of range"))
		}
	case TypeGeographic:
		if s.Geographic == nil {
			return typeMismatch(s.Type)
		}
	case TypeDemographic:
		if s.Demographic == nil {
			return typeMismatch(s.Type)
		}
	case TypeTimeBased:
		if s.TimeWindow == nil {
			return typeMismatch(s.Type)
		}
		if s.TimeWindow.Start != nil && s.TimeWindow.End != nil && s.TimeWindow.End.Before(*s.TimeWindow.Start) {
			return errors.Join(ErrInvalidStrategy, errors.New("time window end precedes start"))
		}
	case TypeCanary:
		if s.Canary == nil {
			return typeMismatch(s.Type)
		}
		if s.Canary.Percentage < 0 || s.Canary.Percentage > 100 {
			return errors.Join(ErrInvalidStrategy, errors.New("canary percentage out of range"))
		}
		if s.Canary.Duration <= 0 {
			return errors.Join(ErrInvalidStrategy, errors.New("canary duration must be positive"))
		}
	default:
		return errors.Join(ErrInvalidStrategy, fmt.Errorf("unknown strategy type %q", s.Type))
	}
	return nil
}

func typeMismatch(t StrategyType) error {
	return errors.Join(ErrInvalidStrategy,
		fmt.Errorf("strategy type %q requires its matching configuration", t))
}

// Metrics is the per-feature live telemetry snapshot. The control plane
// only reads it; an external pipeline refreshes it through UpdateMetrics.
type Metrics struct {
	SuccessRate           float64            `json:"success_rate"`
	ErrorRate             float64            `json:"error_rate"`
	AverageResponseTime   time.Duration      `json:"average_response_time"`
	TotalCost             float64            `json:"total_cost"`
	UserSatisfactionScore float64            `json:"user_satisfaction_score"`
	TotalUsersEnrolled    int64              `json:"total_users_enrolled"`
	Custom                map[string]float64 `json:"custom,omitempty"`
	LastUpdated           time.Time          `json:"last_updated,omitzero"`
}

// MetricsUpdate is a partial, mergeable metrics snapshot. Nil fields are
// left unchanged.
type MetricsUpdate struct {
	SuccessRate           *float64           `json:"success_rate,omitempty"`
	ErrorRate             *float64           `json:"error_rate,omitempty"`
	AverageResponseTime   *time.Duration     `json:"average_response_time,omitempty"`
	TotalCost             *float64           `json:"total_cost,omitempty"`
	UserSatisfactionScore *float64           `json:"user_satisfaction_score,omitempty"`
	TotalUsersEnrolled    *int64             `json:"total_users_enrolled,omitempty"`
	Custom                map[string]float64 `json:"custom,omitempty"`
}

// Reason is the closed enum of rollout evaluation outcomes. When no active
// strategy exists the engine delegates to the flag store and carries its
// reason code through unchanged.
type Reason string

const (
	ReasonRolloutNotStarted       Reason = "rollout_not_started"
	ReasonFullRollout             Reason = "full_rollout"
	ReasonInRolloutPercentage     Reason = "in_rollout_percentage"
	ReasonNotInRolloutPercentage  Reason = "not_in_rollout_percentage"
	ReasonHealthCheckFailed       Reason = "health_check_failed"
	ReasonInGeographicRollout     Reason = "in_geographic_rollout"
	ReasonNotInGeographicRollout  Reason = "not_in_geographic_rollout"
	ReasonNoGeographicData        Reason = "no_geographic_data"
	ReasonInDemographicRollout    Reason = "in_demographic_rollout"
	ReasonNotInDemographicRollout Reason = "not_in_demographic_rollout"
	ReasonNoDemographicData       Reason = "no_demographic_data"
	ReasonInTimeWindow            Reason = "in_time_window"
	ReasonOutsideTimeWindow       Reason = "outside_time_window"
	ReasonInCanary                Reason = "in_canary"
	ReasonNotInCanary             Reason = "not_in_canary"
	ReasonCanaryRolledBack        Reason = "canary_rolled_back"
)

// Info carries evaluation context alongside a decision.
type Info struct {
	Strategy   StrategyType `json:"strategy,omitempty"`
	Status     Status       `json:"status,omitempty"`
	Percentage int          `json:"percentage,omitempty"`
	Variant    string       `json:"variant,omitempty"`
	// Detail names the failing health check as "<name>_failed" when the
	// reason is health_check_failed.
	Detail string `json:"detail,omitempty"`
}

// Decision is the result of a rollout evaluation.
type Decision struct {
	Enabled bool   `json:"enabled"`
	Reason  Reason `json:"reason"`
	Info    *Info  `json:"info,omitempty"`
}
