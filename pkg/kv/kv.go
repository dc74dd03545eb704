package kv

import (
	"context"
	"time"
)

// Record is a stored value together with its optimistic-concurrency version.
type Record struct {
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Version int64  `json:"version"`
}

// Store is the durable key-value contract used for all control-plane
// records. Implementations must provide per-key linearizable writes:
// concurrent Updates against the same key resolve to exactly one winner,
// the loser receiving ErrVersionConflict.
type Store interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Put stores value unconditionally, creating the key if absent, and
	// returns the new version.
	Put(ctx context.Context, key string, value []byte) (int64, error)

	// Update stores value only if the current version equals expected.
	// Returns the new version, ErrVersionConflict on a stale expected
	// version, or ErrNotFound if the key does not exist.
	Update(ctx context.Context, key string, value []byte, expected int64) (int64, error)

	// Delete removes the key. Deleting an absent key returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// List returns all records whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Record, error)

	// Close releases any resources held by the store.
	Close() error
}

// defaultOpTimeout bounds store calls whose context carries no deadline.
const defaultOpTimeout = 5 * time.Second

// boundCtx ensures every store call carries a deadline.
func boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultOpTimeout)
}
