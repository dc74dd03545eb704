package schedule

import "errors"

// Predefined errors for the schedule package.
var (
	// ErrTickNotFound indicates the requested tick does not exist.
	ErrTickNotFound = errors.New("schedule: tick not found")

	// ErrInvalidTick indicates the tick is missing a kind, key, or run time.
	ErrInvalidTick = errors.New("schedule: invalid tick")

	// ErrNoHandler indicates a due tick has no registered handler for its kind.
	ErrNoHandler = errors.New("schedule: no handler registered for tick kind")

	// ErrPollerRunning indicates Run was called on an already-running poller.
	ErrPollerRunning = errors.New("schedule: poller already running")
)
