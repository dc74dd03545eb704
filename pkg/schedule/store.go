package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekit/pkg/kv"
)

const tickKeyPrefix = "tick:"

// Store persists ticks on top of the durable key-value store, so tick
// durability follows whatever backend the control plane runs on.
type Store struct {
	kv kv.Store
}

// NewStore creates a tick store over the given key-value backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

func tickKey(id uuid.UUID) string {
	return tickKeyPrefix + id.String()
}

// Create persists a new pending tick and returns it with its assigned ID.
func (s *Store) Create(ctx context.Context, kind Kind, key string, runAt time.Time) (Tick, error) {
	if kind == "" || key == "" || runAt.IsZero() {
		return Tick{}, ErrInvalidTick
	}

	tick := Tick{
		ID:        uuid.New(),
		Kind:      kind,
		Key:       key,
		RunAt:     runAt,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		return Tick{}, fmt.Errorf("marshal tick: %w", err)
	}
	if _, err := s.kv.Put(ctx, tickKey(tick.ID), payload); err != nil {
		return Tick{}, fmt.Errorf("persist tick: %w", err)
	}
	return tick, nil
}

// Due returns all pending ticks whose run time is at or before now,
// ordered by run time.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Tick, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	var due []Tick
	for _, tick := range all {
		if tick.Status == StatusPending && !tick.RunAt.After(now) {
			due = append(due, tick)
		}
	}
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].RunAt.Before(due[j-1].RunAt); j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
	return due, nil
}

// Pending returns the pending ticks for a kind and key. Owners use this to
// decide whether a next tick must be recomputed after a restart.
func (s *Store) Pending(ctx context.Context, kind Kind, key string) ([]Tick, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Tick
	for _, tick := range all {
		if tick.Status == StatusPending && tick.Kind == kind && tick.Key == key {
			pending = append(pending, tick)
		}
	}
	return pending, nil
}

// Complete marks a tick done. Completing an already-terminal tick is a no-op.
func (s *Store) Complete(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusDone)
}

// Cancel marks a single tick cancelled.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusCancelled)
}

// CancelByKey cancels every pending tick for the kind and key. Pass an
// empty kind to cancel across all kinds for the key.
func (s *Store) CancelByKey(ctx context.Context, kind Kind, key string) error {
	all, err := s.list(ctx)
	if err != nil {
		return err
	}

	for _, tick := range all {
		if tick.Status != StatusPending || tick.Key != key {
			continue
		}
		if kind != "" && tick.Kind != kind {
			continue
		}
		if err := s.setStatus(ctx, tick.ID, StatusCancelled); err != nil && !errors.Is(err, ErrTickNotFound) {
			return err
		}
	}
	return nil
}

// Get returns a tick by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Tick, error) {
	rec, err := s.kv.Get(ctx, tickKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Tick{}, ErrTickNotFound
	}
	if err != nil {
		return Tick{}, err
	}

	var tick Tick
	if err := json.Unmarshal(rec.Value, &tick); err != nil {
		return Tick{}, fmt.Errorf("unmarshal tick %s: %w", id, err)
	}
	return tick, nil
}

func (s *Store) list(ctx context.Context) ([]Tick, error) {
	records, err := s.kv.List(ctx, tickKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}

	ticks := make([]Tick, 0, len(records))
	for _, rec := range records {
		var tick Tick
		if err := json.Unmarshal(rec.Value, &tick); err != nil {
			return nil, fmt.Errorf("unmarshal tick %s: %w", rec.Key, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// setStatus transitions a pending tick with an optimistic retry loop so a
// concurrent cancel and complete resolve to exactly one terminal state.
func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status Status) error {
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := s.kv.Get(ctx, tickKey(id))
		if errors.Is(err, kv.ErrNotFound) {
			return ErrTickNotFound
		}
		if err != nil {
			return err
		}

		var tick Tick
		if err := json.Unmarshal(rec.Value, &tick); err != nil {
			return fmt.Errorf("unmarshal tick %s: %w", id, err)
		}
		if tick.Status != StatusPending {
			return nil // already terminal
		}

		tick.Status = status
		payload, err := json.Marshal(tick)
		if err != nil {
			return fmt.Errorf("marshal tick: %w", err)
		}

		_, err = s.kv.Update(ctx, tickKey(id), payload, rec.Version)
		if errors.Is(err, kv.ErrVersionConflict) {
			continue
		}
		return err
	}
	return kv.ErrVersionConflict
}
