package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/config"
)

type storeConfig struct {
	RedisURL string `env:"TEST_GATE_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Table    string `env:"TEST_GATE_KV_TABLE" envDefault:"kv_records"`
	PoolSize int    `env:"TEST_GATE_POOL_SIZE" envDefault:"4"`
}

type requiredConfig struct {
	Secret string `env:"TEST_GATE_SECRET,required"`
}

func TestLoadDefaults(t *testing.T) {
	config.ResetCache()

	var cfg storeConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "kv_records", cfg.Table)
	assert.Equal(t, 4, cfg.PoolSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TEST_GATE_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("TEST_GATE_POOL_SIZE", "16")
	config.ResetCache()

	var cfg storeConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 16, cfg.PoolSize)
}

func TestLoadCachesPerType(t *testing.T) {
	t.Setenv("TEST_GATE_KV_TABLE", "first")
	config.ResetCache()

	var first storeConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Table)

	// A later environment change is invisible until the cache resets.
	t.Setenv("TEST_GATE_KV_TABLE", "second")
	var second storeConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Table)

	config.ResetCache()
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "second", second.Table)
}

func TestLoadRequiredMissing(t *testing.T) {
	config.ResetCache()

	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoadNilPointer(t *testing.T) {
	assert.ErrorIs(t, config.Load[storeConfig](nil), config.ErrNilPointer)
}
