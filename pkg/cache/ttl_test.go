package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/cache"
)

func TestTTLGetPut(t *testing.T) {
	t.Parallel()

	c := cache.NewTTL[string, int](time.Minute, 0)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("a", 2)
	v, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := cache.NewTTL[string, string](5*time.Minute, 0)
	c.SetClock(func() time.Time { return now })

	c.Put("flag", "cached")

	// Just inside the window.
	now = now.Add(5*time.Minute - time.Second)
	v, ok := c.Get("flag")
	require.True(t, ok)
	assert.Equal(t, "cached", v)

	// Past the window: entry behaves as a miss and is removed.
	now = now.Add(2 * time.Second)
	_, ok = c.Get("flag")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLRemove(t *testing.T) {
	t.Parallel()

	c := cache.NewTTL[string, int](time.Minute, 0)
	c.Put("a", 1)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCapacityEviction(t *testing.T) {
	t.Parallel()

	c := cache.NewTTL[string, int](time.Minute, 3)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}

	assert.Equal(t, 3, c.Len())
	// Oldest entries were evicted first.
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestTTLClear(t *testing.T) {
	t.Parallel()

	c := cache.NewTTL[string, int](time.Minute, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLInvalidTTLPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		cache.NewTTL[string, int](0, 0)
	})
}
