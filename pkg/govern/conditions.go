package govern

import (
	"slices"
	"time"
)

// holds evaluates one condition against the event and the current time.
func (c Condition) holds(now time.Time, event CostEvent) bool {
	switch c.Type {
	case ConditionTimeOfDay:
		return inClockWindow(now, c.Start, c.End)
	case ConditionDayOfWeek:
		return slices.Contains(c.Days, now.Weekday())
	case ConditionUserTier:
		return event.Tier != "" && slices.Contains(c.Values, event.Tier)
	case ConditionOperation:
		return event.Operation != "" && slices.Contains(c.Values, event.Operation)
	case ConditionModel:
		return event.Model != "" && slices.Contains(c.Values, event.Model)
	case ConditionSource:
		return event.Source != "" && slices.Contains(c.Values, event.Source)
	default:
		return false
	}
}

// inClockWindow checks "HH:MM" bounds against the wall clock. A window
// whose start is after its end wraps past midnight. Malformed bounds
// never match.
func inClockWindow(now time.Time, start, end string) bool {
	startMin, ok := parseClock(start)
	if !ok {
		return false
	}
	endMin, ok := parseClock(end)
	if !ok {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return cur >= startMin && cur < endMin
	}
	return cur >= startMin || cur < endMin
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
