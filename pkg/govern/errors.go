package govern

import "errors"

var (
	// ErrConfigNotFound is returned when a subject has no governance
	// config and lazy bootstrap is not possible.
	ErrConfigNotFound = errors.New("governance config not found")

	// ErrActionNotFound is returned when the referenced control action
	// does not exist.
	ErrActionNotFound = errors.New("control action not found")

	// ErrInvalidConfig is returned when a governance config fails
	// validation at write time.
	ErrInvalidConfig = errors.New("invalid governance config")

	// ErrInvalidRule is returned when a rule definition fails validation.
	ErrInvalidRule = errors.New("invalid governance rule")

	// ErrUpdateConflict is returned when a concurrent write invalidated
	// the version the caller read. Retry with a fresh read.
	ErrUpdateConflict = errors.New("governance record was modified concurrently")
)
