package kv

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It's useful for testing and single-node deployments.
type MemoryStore struct {
	records map[string]Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory key-value store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get returns the record stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	if key == "" {
		return Record{}, ErrInvalidKey
	}

	m.mu.RLock()
	rec, exists := m.records[key]
	m.mu.RUnlock()

	if !exists {
		return Record{}, ErrNotFound
	}

	// Return a copy of the value to prevent external modification.
	rec.Value = slices.Clone(rec.Value)
	return rec, nil
}

// Put stores value unconditionally and returns the new version.
func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	version := int64(1)
	if existing, exists := m.records[key]; exists {
		version = existing.Version + 1
	}

	m.records[key] = Record{
		Key:     key,
		Value:   slices.Clone(value),
		Version: version,
	}
	return version, nil
}

// Update stores value only if the current version equals expected.
func (m *MemoryStore) Update(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.records[key]
	if !exists {
		return 0, ErrNotFound
	}
	if existing.Version != expected {
		return 0, ErrVersionConflict
	}

	version := existing.Version + 1
	m.records[key] = Record{
		Key:     key,
		Value:   slices.Clone(value),
		Version: version,
	}
	return version, nil
}

// Delete removes the key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[key]; !exists {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

// List returns all records whose key starts with prefix.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Record, 0)
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) {
			rec.Value = slices.Clone(rec.Value)
			result = append(result, rec)
		}
	}

	// Stable ordering makes callers and tests deterministic.
	slices.SortFunc(result, func(a, b Record) int {
		return strings.Compare(a.Key, b.Key)
	})
	return result, nil
}

// Close releases any resources. For the memory store, this is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
