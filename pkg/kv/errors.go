package kv

import "errors"

// Predefined errors for the kv package.
var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrVersionConflict indicates a conditional update lost a race: the
	// record was modified since the caller read it. Re-read and retry.
	ErrVersionConflict = errors.New("kv: version conflict")

	// ErrInvalidKey indicates an empty or otherwise unusable key.
	ErrInvalidKey = errors.New("kv: invalid key")

	// ErrStoreUnavailable indicates the backing store could not be reached
	// within the bounded timeout.
	ErrStoreUnavailable = errors.New("kv: store unavailable")

	// ErrFailedToParseConnString indicates a malformed connection URL.
	ErrFailedToParseConnString = errors.New("kv: failed to parse connection string")

	// ErrStoreNotReady indicates all connection attempts were exhausted.
	ErrStoreNotReady = errors.New("kv: store not ready")
)
