package kv_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/kv"
)

func TestMemoryStoreGetPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemoryStore()

	t.Run("MissingKey", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.Get(ctx, "")
		assert.ErrorIs(t, err, kv.ErrInvalidKey)
		_, err = store.Put(ctx, "", []byte("v"))
		assert.ErrorIs(t, err, kv.ErrInvalidKey)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		version, err := store.Put(ctx, "flag:a", []byte("payload"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)

		rec, err := store.Get(ctx, "flag:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), rec.Value)
		assert.Equal(t, int64(1), rec.Version)
	})

	t.Run("PutBumpsVersion", func(t *testing.T) {
		version, err := store.Put(ctx, "flag:a", []byte("payload2"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("ValueIsolation", func(t *testing.T) {
		rec, err := store.Get(ctx, "flag:a")
		require.NoError(t, err)
		rec.Value[0] = 'X'

		rec2, err := store.Get(ctx, "flag:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("payload2"), rec2.Value)
	})
}

func TestMemoryStoreConditionalUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemoryStore()

	version, err := store.Put(ctx, "strategy:x", []byte("v1"))
	require.NoError(t, err)

	t.Run("MatchingVersion", func(t *testing.T) {
		next, err := store.Update(ctx, "strategy:x", []byte("v2"), version)
		require.NoError(t, err)
		assert.Equal(t, version+1, next)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		_, err := store.Update(ctx, "strategy:x", []byte("v3"), version)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := store.Update(ctx, "strategy:none", []byte("v"), 1)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemoryStore()

	_, err := store.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.ErrorIs(t, store.Delete(ctx, "k"), kv.ErrNotFound)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemoryStore()

	for _, key := range []string{"flag:b", "flag:a", "strategy:a"} {
		_, err := store.Put(ctx, key, []byte(key))
		require.NoError(t, err)
	}

	records, err := store.List(ctx, "flag:")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "flag:a", records[0].Key)
	assert.Equal(t, "flag:b", records[1].Key)

	records, err = store.List(ctx, "none:")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemoryStore()

	version, err := store.Put(ctx, "contended", []byte("base"))
	require.NoError(t, err)

	// Exactly one of N racing conditional updates may win.
	const n = 32
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "contended", []byte(fmt.Sprintf("w-%d", i)), version)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, kv.ErrVersionConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
