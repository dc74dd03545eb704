package flag

import "errors"

// Predefined errors for the flag package.
var (
	// ErrFlagNotFound indicates that the requested feature flag was not found.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrFlagExists indicates a create collided with an existing flag.
	ErrFlagExists = errors.New("feature flag already exists")

	// ErrInvalidFlag indicates the provided flag parameters are invalid.
	ErrInvalidFlag = errors.New("invalid feature flag parameters")

	// ErrInvalidTrafficSplit indicates an A/B traffic split that does not
	// partition [0,100): weights missing, negative, or not summing to 100.
	ErrInvalidTrafficSplit = errors.New("invalid A/B traffic split")

	// ErrUpdateConflict indicates the flag was modified concurrently and
	// the retry budget was exhausted. Re-read and retry.
	ErrUpdateConflict = errors.New("feature flag update conflict")
)
