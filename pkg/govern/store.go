package govern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekit/pkg/kv"
)

const (
	configKeyPrefix = "govern:config:"
	actionKeyPrefix = "govern:action:"
	costKeyPrefix   = "govern:cost:"
)

// maxCostSamples bounds the per-subject sample window used by velocity
// and spike triggers.
const maxCostSamples = 50

// ConfigStore persists per-subject governance configs.
type ConfigStore struct {
	kv kv.Store
}

// NewConfigStore creates a config store over the given backend.
func NewConfigStore(backend kv.Store) *ConfigStore {
	return &ConfigStore{kv: backend}
}

func configKey(subjectID string) string {
	return configKeyPrefix + subjectID
}

// Get returns the config for a subject with its current version.
func (s *ConfigStore) Get(ctx context.Context, subjectID string) (*Config, error) {
	rec, err := s.kv.Get(ctx, configKey(subjectID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load governance config %q: %w", subjectID, err)
	}

	var cfg Config
	if err := json.Unmarshal(rec.Value, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal governance config %q: %w", subjectID, err)
	}
	cfg.Version = rec.Version
	return &cfg, nil
}

// Put writes the config unconditionally. Used for lazy bootstrap, where
// losing the race to another bootstrap of the same defaults is harmless.
func (s *ConfigStore) Put(ctx context.Context, cfg *Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal governance config %q: %w", cfg.SubjectID, err)
	}
	version, err := s.kv.Put(ctx, configKey(cfg.SubjectID), payload)
	if err != nil {
		return fmt.Errorf("persist governance config %q: %w", cfg.SubjectID, err)
	}
	cfg.Version = version
	return nil
}

// Update replaces the config conditionally on its version.
func (s *ConfigStore) Update(ctx context.Context, cfg *Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal governance config %q: %w", cfg.SubjectID, err)
	}

	version, err := s.kv.Update(ctx, configKey(cfg.SubjectID), payload, cfg.Version)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return ErrConfigNotFound
	case errors.Is(err, kv.ErrVersionConflict):
		return errors.Join(ErrUpdateConflict, err)
	case err != nil:
		return fmt.Errorf("update governance config %q: %w", cfg.SubjectID, err)
	}
	cfg.Version = version
	return nil
}

// Delete removes the config. Reset is the only caller.
func (s *ConfigStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.kv.Delete(ctx, configKey(subjectID)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("delete governance config %q: %w", subjectID, err)
	}
	return nil
}

// ActionStore persists executed control actions.
type ActionStore struct {
	kv kv.Store
}

// NewActionStore creates an action store over the given backend.
func NewActionStore(backend kv.Store) *ActionStore {
	return &ActionStore{kv: backend}
}

func actionKey(subjectID string, id uuid.UUID) string {
	return actionKeyPrefix + subjectID + ":" + id.String()
}

// Create persists a new action record.
func (s *ActionStore) Create(ctx context.Context, a *Action) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action %s: %w", a.ID, err)
	}
	version, err := s.kv.Put(ctx, actionKey(a.SubjectID, a.ID), payload)
	if err != nil {
		return fmt.Errorf("persist action %s: %w", a.ID, err)
	}
	a.Version = version
	return nil
}

// Get scans for an action by ID. Actions are keyed by subject, so a
// lookup without the subject walks the prefix.
func (s *ActionStore) Get(ctx context.Context, id uuid.UUID) (*Action, error) {
	records, err := s.kv.List(ctx, actionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	for _, rec := range records {
		var a Action
		if err := json.Unmarshal(rec.Value, &a); err != nil {
			return nil, fmt.Errorf("unmarshal action %q: %w", rec.Key, err)
		}
		if a.ID == id {
			a.Version = rec.Version
			return &a, nil
		}
	}
	return nil, ErrActionNotFound
}

// Update replaces the action record conditionally on its version.
func (s *ActionStore) Update(ctx context.Context, a *Action) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action %s: %w", a.ID, err)
	}

	version, err := s.kv.Update(ctx, actionKey(a.SubjectID, a.ID), payload, a.Version)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return ErrActionNotFound
	case errors.Is(err, kv.ErrVersionConflict):
		return errors.Join(ErrUpdateConflict, err)
	case err != nil:
		return fmt.Errorf("update action %s: %w", a.ID, err)
	}
	a.Version = version
	return nil
}

// ListBySubject returns every action recorded for a subject, newest
// first.
func (s *ActionStore) ListBySubject(ctx context.Context, subjectID string) ([]*Action, error) {
	records, err := s.kv.List(ctx, actionKeyPrefix+subjectID+":")
	if err != nil {
		return nil, fmt.Errorf("list actions for %q: %w", subjectID, err)
	}

	actions := make([]*Action, 0, len(records))
	for _, rec := range records {
		var a Action
		if err := json.Unmarshal(rec.Value, &a); err != nil {
			return nil, fmt.Errorf("unmarshal action %q: %w", rec.Key, err)
		}
		a.Version = rec.Version
		actions = append(actions, &a)
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ExecutedAt.After(actions[j].ExecutedAt)
	})
	return actions, nil
}

// DeleteBySubject removes every action for a subject. Reset is the only
// caller.
func (s *ActionStore) DeleteBySubject(ctx context.Context, subjectID string) error {
	records, err := s.kv.List(ctx, actionKeyPrefix+subjectID+":")
	if err != nil {
		return fmt.Errorf("list actions for %q: %w", subjectID, err)
	}
	for _, rec := range records {
		if err := s.kv.Delete(ctx, rec.Key); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("delete action %q: %w", rec.Key, err)
		}
	}
	return nil
}

// CostSample is one cost observation in the per-subject window.
type CostSample struct {
	Cost float64   `json:"cost"`
	At   time.Time `json:"at"`
}

type costWindow struct {
	Samples []CostSample `json:"samples"`
}

// CostStore keeps a bounded rolling window of cost samples per subject,
// feeding the velocity and spike triggers.
type CostStore struct {
	kv kv.Store
}

// NewCostStore creates a cost sample store over the given backend.
func NewCostStore(backend kv.Store) *CostStore {
	return &CostStore{kv: backend}
}

// Record appends a sample to the subject's window, trimming it to the
// bounded size. Concurrent writers retry on version conflicts.
func (s *CostStore) Record(ctx context.Context, subjectID string, sample CostSample) error {
	key := costKeyPrefix + subjectID

	for attempt := 0; attempt < 3; attempt++ {
		var window costWindow
		var version int64

		rec, err := s.kv.Get(ctx, key)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			// first sample for this subject
		case err != nil:
			return fmt.Errorf("load cost window %q: %w", subjectID, err)
		default:
			if err := json.Unmarshal(rec.Value, &window); err != nil {
				return fmt.Errorf("unmarshal cost window %q: %w", subjectID, err)
			}
			version = rec.Version
		}

		window.Samples = append(window.Samples, sample)
		if n := len(window.Samples); n > maxCostSamples {
			window.Samples = window.Samples[n-maxCostSamples:]
		}

		payload, err := json.Marshal(window)
		if err != nil {
			return fmt.Errorf("marshal cost window %q: %w", subjectID, err)
		}

		if version == 0 {
			_, err = s.kv.Put(ctx, key, payload)
		} else {
			_, err = s.kv.Update(ctx, key, payload, version)
		}
		if errors.Is(err, kv.ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrUpdateConflict
}

// Window returns the samples recorded at or after the cutoff, oldest
// first.
func (s *CostStore) Window(ctx context.Context, subjectID string, since time.Time) ([]CostSample, error) {
	rec, err := s.kv.Get(ctx, costKeyPrefix+subjectID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cost window %q: %w", subjectID, err)
	}

	var window costWindow
	if err := json.Unmarshal(rec.Value, &window); err != nil {
		return nil, fmt.Errorf("unmarshal cost window %q: %w", subjectID, err)
	}

	samples := make([]CostSample, 0, len(window.Samples))
	for _, sample := range window.Samples {
		if !sample.At.Before(since) {
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

// Delete removes the subject's sample window. Reset is the only caller.
func (s *CostStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.kv.Delete(ctx, costKeyPrefix+subjectID); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("delete cost window %q: %w", subjectID, err)
	}
	return nil
}
