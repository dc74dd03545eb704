package bucket_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/bucket"
)

func TestBucketRange(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		b := bucket.Bucket(fmt.Sprintf("subject-%d", i), "salt")
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 100)
	}
}

func TestBucketDeterministic(t *testing.T) {
	t.Parallel()

	first := bucket.Bucket("user-42", "checkout")
	for attempt := 0; attempt < 100; attempt++ {
		assert.Equal(t, first, bucket.Bucket("user-42", "checkout"))
	}
}

func TestBucketSaltIndependence(t *testing.T) {
	t.Parallel()

	// Different salts must not all map a subject to the same bucket.
	// With 200 subjects the probability of full agreement is effectively zero.
	same := 0
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("subject-%d", i)
		if bucket.Bucket(id, "rollout") == bucket.Bucket(id, "variant") {
			same++
		}
	}
	assert.Less(t, same, 200)
}

func TestInPercentageMonotonic(t *testing.T) {
	t.Parallel()

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("subject-%d", i)
		for pct := 1; pct < 100; pct++ {
			if bucket.InPercentage(id, "salt", pct) {
				// Once included, every higher percentage must include too.
				require.True(t, bucket.InPercentage(id, "salt", pct+1),
					"subject %s included at %d%% but excluded at %d%%", id, pct, pct+1)
			}
		}
	}
}

func TestInPercentageBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pct  int
		want bool
	}{
		{"zero percent excludes everyone", 0, false},
		{"negative clamps to zero", -10, false},
		{"hundred percent includes everyone", 100, true},
		{"over hundred clamps to full", 150, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for i := 0; i < 100; i++ {
				assert.Equal(t, tt.want, bucket.InPercentage(fmt.Sprintf("s-%d", i), "salt", tt.pct))
			}
		})
	}
}

func TestInPercentageEmptySubject(t *testing.T) {
	t.Parallel()

	assert.False(t, bucket.InPercentage("", "salt", 50))
	assert.True(t, bucket.InPercentage("", "salt", 100))
}

func TestBucketDistribution(t *testing.T) {
	t.Parallel()

	// A loose uniformity sanity check: over 10k subjects each bucket should
	// receive roughly 100; assert no bucket is wildly over- or under-filled.
	counts := make([]int, 100)
	for i := 0; i < 10000; i++ {
		counts[bucket.Bucket(fmt.Sprintf("subject-%d", i), "dist")]++
	}
	for b, n := range counts {
		assert.Greater(t, n, 30, "bucket %d underfilled: %d", b, n)
		assert.Less(t, n, 300, "bucket %d overfilled: %d", b, n)
	}
}
