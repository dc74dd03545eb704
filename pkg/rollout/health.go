package rollout

import "fmt"

// healthResult reports the outcome of the health gate. When a check fails,
// Detail names it as "<name>_failed".
type healthResult struct {
	Healthy bool
	Detail  string
}

// evaluateHealth runs the strategy's enabled health checks against the
// metrics snapshot, short-circuiting on the first failure. hasMetrics=false
// means telemetry has not arrived yet: the failOpen policy decides whether
// that counts as healthy (telemetry lag is common early in a rollout) or
// unhealthy (operators who prefer to stall rather than proceed blind).
func evaluateHealth(s *Strategy, m Metrics, hasMetrics, failOpen bool) healthResult {
	enabled := 0
	for _, check := range s.HealthChecks {
		if check.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return healthResult{Healthy: true}
	}

	if !hasMetrics {
		if failOpen {
			return healthResult{Healthy: true}
		}
		return healthResult{Healthy: false, Detail: "metrics_unavailable"}
	}

	for _, check := range s.HealthChecks {
		if !check.Enabled {
			continue
		}
		if !check.passes(m) {
			return healthResult{Healthy: false, Detail: failDetail(check)}
		}
	}
	return healthResult{Healthy: true}
}

// passes reports whether the healthy condition "metric Comparison
// Threshold" holds for the snapshot.
func (c HealthCheck) passes(m Metrics) bool {
	value, ok := c.metricValue(m)
	if !ok {
		// A custom check whose metric never arrived cannot pass.
		return false
	}

	switch c.Comparison {
	case LessThan:
		return value < c.Threshold
	case GreaterThan:
		return value > c.Threshold
	case Equals:
		return value == c.Threshold
	default:
		return false
	}
}

func (c HealthCheck) metricValue(m Metrics) (float64, bool) {
	switch c.Type {
	case CheckErrorRate:
		return m.ErrorRate, true
	case CheckResponseTime:
		return float64(m.AverageResponseTime.Milliseconds()), true
	case CheckCost:
		return m.TotalCost, true
	case CheckUserSatisfaction:
		return m.UserSatisfactionScore, true
	case CheckCustom:
		v, ok := m.Custom[c.Name]
		return v, ok
	default:
		return 0, false
	}
}

func failDetail(c HealthCheck) string {
	name := c.Name
	if name == "" {
		name = string(c.Type)
	}
	return fmt.Sprintf("%s_failed", name)
}
