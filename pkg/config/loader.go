package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	mu     sync.Mutex
	cache  = make(map[string]any)
	dotEnv sync.Once
)

// Load parses environment variables into the destination struct. The
// first call for a given type parses the environment; later calls return
// the cached value, so a config type observed by many components is
// parsed exactly once per process.
//
// A .env file in the working directory is loaded before the first parse
// when present. Missing files are not an error.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotEnv.Do(func() {
		_ = godotenv.Load()
	})

	key := typeName[T]()

	mu.Lock()
	defer mu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	cache[key] = *v
	return nil
}

// MustLoad works like Load but panics on failure. Use it for configs the
// process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("load required configuration: %v", err))
	}
}

// LoadEnv loads the named .env files into the process environment before
// any config is parsed. Values already present in the environment win.
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}

// ResetCache drops every cached config so the next Load re-parses the
// environment. Intended for tests.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cache = make(map[string]any)
}

func typeName[T any]() string {
	var zero T
	if t := reflect.TypeOf(zero); t != nil {
		return t.String()
	}
	return fmt.Sprintf("%T", *new(T))
}
