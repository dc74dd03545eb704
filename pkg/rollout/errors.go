package rollout

import "errors"

// Predefined errors for the rollout package.
var (
	// ErrStrategyNotFound indicates no strategy exists for the feature.
	ErrStrategyNotFound = errors.New("rollout strategy not found")

	// ErrStrategyExists indicates the feature already has a strategy.
	ErrStrategyExists = errors.New("rollout strategy already exists")

	// ErrInvalidStrategy indicates the strategy configuration is invalid:
	// missing or mismatched type-specific configuration, bad percentages.
	ErrInvalidStrategy = errors.New("invalid rollout strategy")

	// ErrInvalidTransition indicates a lifecycle transition the state
	// machine does not permit (for example resuming a rolled-back strategy).
	ErrInvalidTransition = errors.New("invalid rollout status transition")

	// ErrUpdateConflict indicates concurrent modification exhausted the
	// retry budget.
	ErrUpdateConflict = errors.New("rollout strategy update conflict")
)
