package schedule_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/kv"
	"github.com/dmitrymomot/gatekit/pkg/schedule"
)

func newStore(t *testing.T) *schedule.Store {
	t.Helper()
	return schedule.NewStore(kv.NewMemoryStore())
}

func TestStoreCreateAndDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	t.Run("InvalidTick", func(t *testing.T) {
		_, err := store.Create(ctx, "", "key", now)
		assert.ErrorIs(t, err, schedule.ErrInvalidTick)
		_, err = store.Create(ctx, schedule.KindRolloutIncrement, "", now)
		assert.ErrorIs(t, err, schedule.ErrInvalidTick)
	})

	early, err := store.Create(ctx, schedule.KindRolloutIncrement, "feature-a", now.Add(time.Hour))
	require.NoError(t, err)
	late, err := store.Create(ctx, schedule.KindCanaryEvaluation, "feature-b", now.Add(2*time.Hour))
	require.NoError(t, err)

	t.Run("NothingDueYet", func(t *testing.T) {
		due, err := store.Due(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("DueOrderedByRunAt", func(t *testing.T) {
		due, err := store.Due(ctx, now.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, early.ID, due[0].ID)
		assert.Equal(t, late.ID, due[1].ID)
	})

	t.Run("CompletedTicksNotDue", func(t *testing.T) {
		require.NoError(t, store.Complete(ctx, early.ID))
		due, err := store.Due(ctx, now.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, late.ID, due[0].ID)
	})
}

func TestStorePendingAndCancelByKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	runAt := time.Now().Add(time.Hour)

	_, err := store.Create(ctx, schedule.KindRolloutIncrement, "feature-a", runAt)
	require.NoError(t, err)
	_, err = store.Create(ctx, schedule.KindCanaryEvaluation, "feature-a", runAt)
	require.NoError(t, err)
	other, err := store.Create(ctx, schedule.KindRolloutIncrement, "feature-b", runAt)
	require.NoError(t, err)

	pending, err := store.Pending(ctx, schedule.KindRolloutIncrement, "feature-a")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Empty kind cancels across all kinds for the key.
	require.NoError(t, store.CancelByKey(ctx, "", "feature-a"))

	pending, err = store.Pending(ctx, schedule.KindRolloutIncrement, "feature-a")
	require.NoError(t, err)
	assert.Empty(t, pending)
	pending, err = store.Pending(ctx, schedule.KindCanaryEvaluation, "feature-a")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Unrelated key untouched.
	pending, err = store.Pending(ctx, schedule.KindRolloutIncrement, "feature-b")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].ID)
}

func TestStoreTerminalTransitionsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	tick, err := store.Create(ctx, schedule.KindActionReversal, "action-1", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Cancel(ctx, tick.ID))
	// Completing a cancelled tick is a no-op, not an error.
	require.NoError(t, store.Complete(ctx, tick.ID))

	got, err := store.Get(ctx, tick.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, got.Status)

	assert.ErrorIs(t, store.Cancel(ctx, uuid.New()), schedule.ErrTickNotFound)
}

func TestPollerRunDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	tick, err := store.Create(ctx, schedule.KindRolloutIncrement, "feature-a", now)
	require.NoError(t, err)

	var handled atomic.Int32
	poller := schedule.NewPoller(store)
	poller.Handle(schedule.KindRolloutIncrement, func(ctx context.Context, got schedule.Tick) error {
		assert.Equal(t, tick.ID, got.ID)
		assert.Equal(t, "feature-a", got.Key)
		handled.Add(1)
		return nil
	})

	poller.RunDue(ctx, now)
	assert.Equal(t, int32(1), handled.Load())

	// The tick is done; a second pass must not re-fire it.
	poller.RunDue(ctx, now)
	assert.Equal(t, int32(1), handled.Load())

	got, err := store.Get(ctx, tick.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDone, got.Status)
}

func TestPollerRetriesFailedHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	_, err := store.Create(ctx, schedule.KindActionReversal, "action-1", now)
	require.NoError(t, err)

	var calls atomic.Int32
	poller := schedule.NewPoller(store)
	poller.Handle(schedule.KindActionReversal, func(ctx context.Context, tick schedule.Tick) error {
		if calls.Add(1) == 1 {
			return errors.New("store hiccup")
		}
		return nil
	})

	poller.RunDue(ctx, now)
	// Still pending: retried on the next pass.
	poller.RunDue(ctx, now)
	assert.Equal(t, int32(2), calls.Load())

	due, err := store.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPollerDropsUnknownKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	tick, err := store.Create(ctx, schedule.KindCanaryEvaluation, "feature-a", now)
	require.NoError(t, err)

	poller := schedule.NewPoller(store)
	poller.RunDue(ctx, now)

	got, err := store.Get(ctx, tick.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDone, got.Status)
}

func TestPollerRunLifecycle(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	poller := schedule.NewPoller(store, schedule.WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	// Give the loop a moment, then verify double-run is rejected.
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, poller.Run(ctx), schedule.ErrPollerRunning)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancellation")
	}
}
