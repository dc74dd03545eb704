package flag

import (
	"errors"
	"fmt"
	"time"
)

// Flag is the durable record of a feature flag.
type Flag struct {
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	Enabled           bool          `json:"enabled"`
	RolloutPercentage int           `json:"rollout_percentage"`
	ABTest            *ABTestConfig `json:"ab_test,omitempty"`
	CostThreshold     *float64      `json:"cost_threshold,omitempty"`
	EmergencyShutdown bool          `json:"emergency_shutdown"`
	UpdatedBy         string        `json:"updated_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at,omitzero"`
	UpdatedAt         time.Time     `json:"updated_at,omitzero"`

	// Version is the optimistic-concurrency token assigned by the store.
	Version int64 `json:"-"`
}

// Variant is a single A/B test arm.
type Variant struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// ABTestConfig describes an A/B test attached to a flag. TrafficSplit must
// partition [0,100): per-variant percentages with no gaps or overlaps,
// summing to exactly 100.
type ABTestConfig struct {
	Variants     []Variant      `json:"variants"`
	TrafficSplit map[string]int `json:"traffic_split"`
	Active       bool           `json:"active"`
	StartsAt     *time.Time     `json:"starts_at,omitempty"`
	EndsAt       *time.Time     `json:"ends_at,omitempty"`
}

// ActiveAt reports whether the test is active and inside its validity
// window at the given time. Absent bounds impose no constraint.
func (c *ABTestConfig) ActiveAt(now time.Time) bool {
	if c == nil || !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// Validate checks the traffic split partitions [0,100).
func (c *ABTestConfig) Validate() error {
	if c == nil {
		return nil
	}
	if len(c.Variants) == 0 {
		return errors.Join(ErrInvalidTrafficSplit, errors.New("at least one variant is required"))
	}

	sum := 0
	for _, v := range c.Variants {
		if v.Name == "" {
			return errors.Join(ErrInvalidTrafficSplit, errors.New("variant name cannot be empty"))
		}
		pct, ok := c.TrafficSplit[v.Name]
		if !ok {
			return errors.Join(ErrInvalidTrafficSplit,
				fmt.Errorf("variant %q has no traffic split entry", v.Name))
		}
		if pct < 0 || pct > 100 {
			return errors.Join(ErrInvalidTrafficSplit,
				fmt.Errorf("variant %q split %d out of range", v.Name, pct))
		}
		sum += pct
	}
	if sum != 100 {
		return errors.Join(ErrInvalidTrafficSplit,
			fmt.Errorf("traffic split sums to %d, must be 100", sum))
	}
	if len(c.TrafficSplit) != len(c.Variants) {
		return errors.Join(ErrInvalidTrafficSplit, errors.New("traffic split references unknown variants"))
	}
	return nil
}

// Subject is the evaluation context for a single request.
type Subject struct {
	ID         string            `json:"id"`
	Country    string            `json:"country,omitempty"`
	Region     string            `json:"region,omitempty"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	TotalCost  float64           `json:"total_cost,omitempty"`
}

// Reason is the closed enum of eligibility outcomes. Callers branch on
// these codes; the set is part of the package contract.
type Reason string

const (
	ReasonFlagNotFound          Reason = "flag_not_found"
	ReasonEmergencyShutdown     Reason = "emergency_shutdown"
	ReasonGloballyDisabled      Reason = "globally_disabled"
	ReasonCostThresholdExceeded Reason = "cost_threshold_exceeded"
	ReasonNotInRollout          Reason = "not_in_rollout"
	ReasonABTestActive          Reason = "ab_test_active"
	ReasonFullyEnabled          Reason = "fully_enabled"
)

// Decision is the result of an eligibility evaluation.
type Decision struct {
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant,omitempty"`
	Reason  Reason `json:"reason"`
}

// Update is a partial flag mutation. Nil fields are left unchanged.
type Update struct {
	Description       *string       `json:"description,omitempty"`
	Enabled           *bool         `json:"enabled,omitempty"`
	RolloutPercentage *int          `json:"rollout_percentage,omitempty"`
	ABTest            *ABTestConfig `json:"ab_test,omitempty"`
	CostThreshold     *float64      `json:"cost_threshold,omitempty"`
	EmergencyShutdown *bool         `json:"emergency_shutdown,omitempty"`
}

// clampPercentage bounds a rollout percentage to [0,100]. Percentage is the
// one field that clamps instead of rejecting, matching the write contract.
func clampPercentage(pct int) int {
	return min(max(pct, 0), 100)
}
