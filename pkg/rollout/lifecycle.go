package rollout

// transitions is the strategy lifecycle state machine. completed and
// rolled_back are terminal; rolled_back is additionally irreversible by
// contract, so nothing transitions out of either.
var transitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCompleted, StatusRolledBack},
	StatusPaused: {StatusActive, StatusRolledBack},
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}
