package flag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/gatekit/pkg/kv"
)

const flagKeyPrefix = "flag:"

// Store persists flags on the durable key-value backend.
type Store struct {
	kv kv.Store
}

// NewStore creates a flag store over the given key-value backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

func flagKey(name string) string {
	return flagKeyPrefix + name
}

// Get returns the flag with its current version.
func (s *Store) Get(ctx context.Context, name string) (*Flag, error) {
	if name == "" {
		return nil, errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}

	rec, err := s.kv.Get(ctx, flagKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load flag %q: %w", name, err)
	}

	var f Flag
	if err := json.Unmarshal(rec.Value, &f); err != nil {
		return nil, fmt.Errorf("unmarshal flag %q: %w", name, err)
	}
	f.Version = rec.Version
	return &f, nil
}

// Create persists a new flag. Fails with ErrFlagExists if the name is taken.
func (s *Store) Create(ctx context.Context, f *Flag) error {
	if f == nil || f.Name == "" {
		return errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}

	if _, err := s.Get(ctx, f.Name); err == nil {
		return ErrFlagExists
	} else if !errors.Is(err, ErrFlagNotFound) {
		return err
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal flag %q: %w", f.Name, err)
	}
	version, err := s.kv.Put(ctx, flagKey(f.Name), payload)
	if err != nil {
		return fmt.Errorf("persist flag %q: %w", f.Name, err)
	}
	f.Version = version
	return nil
}

// Update replaces the flag record conditionally on its version.
func (s *Store) Update(ctx context.Context, f *Flag) error {
	if f == nil || f.Name == "" {
		return errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal flag %q: %w", f.Name, err)
	}

	version, err := s.kv.Update(ctx, flagKey(f.Name), payload, f.Version)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return ErrFlagNotFound
	case errors.Is(err, kv.ErrVersionConflict):
		return errors.Join(ErrUpdateConflict, err)
	case err != nil:
		return fmt.Errorf("update flag %q: %w", f.Name, err)
	}
	f.Version = version
	return nil
}

// Delete removes a flag.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.kv.Delete(ctx, flagKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrFlagNotFound
	}
	return err
}

// List returns all flags.
func (s *Store) List(ctx context.Context) ([]*Flag, error) {
	records, err := s.kv.List(ctx, flagKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	flags := make([]*Flag, 0, len(records))
	for _, rec := range records {
		var f Flag
		if err := json.Unmarshal(rec.Value, &f); err != nil {
			return nil, fmt.Errorf("unmarshal flag %q: %w", rec.Key, err)
		}
		f.Version = rec.Version
		flags = append(flags, &f)
	}
	return flags, nil
}
