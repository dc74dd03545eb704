package flag_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/alert"
	"github.com/dmitrymomot/gatekit/pkg/bucket"
	"github.com/dmitrymomot/gatekit/pkg/flag"
	"github.com/dmitrymomot/gatekit/pkg/kv"
)

func newService(t *testing.T, opts ...flag.ServiceOption) *flag.Service {
	t.Helper()
	return flag.NewService(flag.NewStore(kv.NewMemoryStore()), opts...)
}

func mustCreate(t *testing.T, svc *flag.Service, f *flag.Flag) {
	t.Helper()
	require.NoError(t, svc.Create(context.Background(), f, "test"))
}

func TestServiceCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newService(t)

	t.Run("StampsActorAndTimestamps", func(t *testing.T) {
		f := &flag.Flag{Name: "checkout", Enabled: true, RolloutPercentage: 50}
		require.NoError(t, svc.Create(ctx, f, "alice"))
		assert.Equal(t, "alice", f.UpdatedBy)
		assert.False(t, f.CreatedAt.IsZero())
	})

	t.Run("DuplicateName", func(t *testing.T) {
		err := svc.Create(ctx, &flag.Flag{Name: "checkout"}, "alice")
		assert.ErrorIs(t, err, flag.ErrFlagExists)
	})

	t.Run("EmptyName", func(t *testing.T) {
		err := svc.Create(ctx, &flag.Flag{}, "alice")
		assert.ErrorIs(t, err, flag.ErrInvalidFlag)
	})

	t.Run("PercentageClamped", func(t *testing.T) {
		f := &flag.Flag{Name: "clamped", Enabled: true, RolloutPercentage: 250}
		require.NoError(t, svc.Create(ctx, f, "alice"))
		assert.Equal(t, 100, f.RolloutPercentage)
	})

	t.Run("InvalidABTestRejected", func(t *testing.T) {
		err := svc.Create(ctx, &flag.Flag{
			Name: "bad-ab",
			ABTest: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}},
				TrafficSplit: map[string]int{"a": 50},
			},
		}, "alice")
		assert.ErrorIs(t, err, flag.ErrInvalidTrafficSplit)
	})
}

func TestServiceIsEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("FlagNotFound", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		d := svc.IsEnabled(ctx, "ghost", flag.Subject{ID: "u1"})
		assert.False(t, d.Enabled)
		assert.Equal(t, flag.ReasonFlagNotFound, d.Reason)
	})

	t.Run("EmergencyShutdownWinsOverEverything", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		mustCreate(t, svc, &flag.Flag{
			Name: "y", Enabled: true, RolloutPercentage: 100, EmergencyShutdown: true,
		})
		d := svc.IsEnabled(ctx, "y", flag.Subject{ID: "u1"})
		assert.False(t, d.Enabled)
		assert.Equal(t, flag.ReasonEmergencyShutdown, d.Reason)
	})

	t.Run("GloballyDisabled", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		mustCreate(t, svc, &flag.Flag{Name: "off", Enabled: false, RolloutPercentage: 100})
		d := svc.IsEnabled(ctx, "off", flag.Subject{ID: "u1"})
		assert.Equal(t, flag.ReasonGloballyDisabled, d.Reason)
	})

	t.Run("CostThreshold", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		threshold := 10.0
		mustCreate(t, svc, &flag.Flag{
			Name: "costly", Enabled: true, RolloutPercentage: 100, CostThreshold: &threshold,
		})

		d := svc.IsEnabled(ctx, "costly", flag.Subject{ID: "u1", TotalCost: 10.5})
		assert.False(t, d.Enabled)
		assert.Equal(t, flag.ReasonCostThresholdExceeded, d.Reason)

		d = svc.IsEnabled(ctx, "costly", flag.Subject{ID: "u1", TotalCost: 9.5})
		assert.True(t, d.Enabled)
	})

	t.Run("RolloutBucketing", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		mustCreate(t, svc, &flag.Flag{Name: "partial", Enabled: true, RolloutPercentage: 30})

		// Find one subject inside and one outside the 30% bucket.
		var inside, outside string
		for i := 0; inside == "" || outside == ""; i++ {
			id := fmt.Sprintf("user-%d", i)
			if bucket.Bucket(id, "partial") < 30 {
				inside = id
			} else {
				outside = id
			}
		}

		d := svc.IsEnabled(ctx, "partial", flag.Subject{ID: inside})
		assert.True(t, d.Enabled)
		assert.Equal(t, flag.ReasonFullyEnabled, d.Reason)

		d = svc.IsEnabled(ctx, "partial", flag.Subject{ID: outside})
		assert.False(t, d.Enabled)
		assert.Equal(t, flag.ReasonNotInRollout, d.Reason)
	})

	t.Run("ABTestAssignsVariant", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		mustCreate(t, svc, &flag.Flag{
			Name: "experiment", Enabled: true, RolloutPercentage: 100,
			ABTest: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "control"}, {Name: "treatment"}},
				TrafficSplit: map[string]int{"control": 50, "treatment": 50},
				Active:       true,
			},
		})

		seen := map[string]int{}
		for i := 0; i < 200; i++ {
			d := svc.IsEnabled(ctx, "experiment", flag.Subject{ID: fmt.Sprintf("user-%d", i)})
			require.True(t, d.Enabled)
			require.Equal(t, flag.ReasonABTestActive, d.Reason)
			require.Contains(t, []string{"control", "treatment"}, d.Variant)
			seen[d.Variant]++
		}
		// Both arms observed, and assignment is deterministic per subject.
		assert.Positive(t, seen["control"])
		assert.Positive(t, seen["treatment"])

		first := svc.IsEnabled(ctx, "experiment", flag.Subject{ID: "user-7"})
		for attempt := 0; attempt < 10; attempt++ {
			assert.Equal(t, first.Variant, svc.IsEnabled(ctx, "experiment", flag.Subject{ID: "user-7"}).Variant)
		}
	})

	t.Run("ExpiredABTestFallsThrough", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)
		past := time.Now().Add(-time.Hour)
		mustCreate(t, svc, &flag.Flag{
			Name: "stale-ab", Enabled: true, RolloutPercentage: 100,
			ABTest: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}, {Name: "b"}},
				TrafficSplit: map[string]int{"a": 50, "b": 50},
				Active:       true,
				EndsAt:       &past,
			},
		})

		d := svc.IsEnabled(ctx, "stale-ab", flag.Subject{ID: "u1"})
		assert.True(t, d.Enabled)
		assert.Equal(t, flag.ReasonFullyEnabled, d.Reason)
		assert.Empty(t, d.Variant)
	})
}

func TestServiceUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newService(t)
	mustCreate(t, svc, &flag.Flag{Name: "f", Enabled: true, RolloutPercentage: 10})

	t.Run("PartialMerge", func(t *testing.T) {
		pct := 40
		updated, err := svc.Update(ctx, "f", flag.Update{RolloutPercentage: &pct}, "bob")
		require.NoError(t, err)
		assert.Equal(t, 40, updated.RolloutPercentage)
		assert.True(t, updated.Enabled, "untouched fields preserved")
		assert.Equal(t, "bob", updated.UpdatedBy)
	})

	t.Run("ClampsPercentage", func(t *testing.T) {
		pct := -5
		updated, err := svc.Update(ctx, "f", flag.Update{RolloutPercentage: &pct}, "bob")
		require.NoError(t, err)
		assert.Equal(t, 0, updated.RolloutPercentage)
	})

	t.Run("MissingFlag", func(t *testing.T) {
		_, err := svc.Update(ctx, "ghost", flag.Update{}, "bob")
		assert.ErrorIs(t, err, flag.ErrFlagNotFound)
	})

	t.Run("UpdateVisibleImmediately", func(t *testing.T) {
		// A read warmed the cache; the write must invalidate it.
		_ = svc.IsEnabled(ctx, "f", flag.Subject{ID: "u"})
		enabled := false
		_, err := svc.Update(ctx, "f", flag.Update{Enabled: &enabled}, "bob")
		require.NoError(t, err)

		d := svc.IsEnabled(ctx, "f", flag.Subject{ID: "u"})
		assert.Equal(t, flag.ReasonGloballyDisabled, d.Reason)
	})
}

func TestServiceEmergencyShutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := alert.NewMemoryHub(10)
	defer hub.Close()
	sub := hub.Subscribe(ctx)

	svc := newService(t, flag.WithAlerts(hub))
	mustCreate(t, svc, &flag.Flag{Name: "y", Enabled: true, RolloutPercentage: 100})

	// Fully-enrolled subject before shutdown.
	d := svc.IsEnabled(ctx, "y", flag.Subject{ID: "u1"})
	require.True(t, d.Enabled)

	require.NoError(t, svc.EmergencyShutdown(ctx, "y", "cost spike", "oncall"))

	// Every subject sees shutdown immediately, cache notwithstanding.
	for i := 0; i < 20; i++ {
		d := svc.IsEnabled(ctx, "y", flag.Subject{ID: fmt.Sprintf("u%d", i)})
		assert.False(t, d.Enabled)
		assert.Equal(t, flag.ReasonEmergencyShutdown, d.Reason)
	}

	// Idempotent.
	require.NoError(t, svc.EmergencyShutdown(ctx, "y", "again", "oncall"))

	select {
	case msg := <-sub:
		assert.Equal(t, alert.TopicEmergencyShutdown, msg.Topic)
		assert.Equal(t, "y", msg.Subject)
		assert.Equal(t, alert.SeverityCritical, msg.Severity)
	case <-time.After(time.Second):
		t.Fatal("no shutdown alert published")
	}
}

func TestServiceCacheServesWithinTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := kv.NewMemoryStore()
	store := flag.NewStore(backend)
	svc := flag.NewService(store)

	f := &flag.Flag{Name: "cached", Enabled: true, RolloutPercentage: 100}
	require.NoError(t, svc.Create(ctx, f, "test"))

	// Warm the cache, then delete behind the service's back.
	require.True(t, svc.IsEnabled(ctx, "cached", flag.Subject{ID: "u"}).Enabled)
	require.NoError(t, store.Delete(ctx, "cached"))

	// Still served from cache.
	assert.True(t, svc.IsEnabled(ctx, "cached", flag.Subject{ID: "u"}).Enabled)

	// After explicit invalidation the miss falls through to the store.
	svc.Invalidate("cached")
	d := svc.IsEnabled(ctx, "cached", flag.Subject{ID: "u"})
	assert.Equal(t, flag.ReasonFlagNotFound, d.Reason)
}
