package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/gatekit/pkg/kv"
)

const (
	strategyKeyPrefix = "strategy:"
	metricsKeyPrefix  = "metrics:"
)

// Store persists strategies on the durable key-value backend.
type Store struct {
	kv kv.Store
}

// NewStore creates a strategy store over the given key-value backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

func strategyKey(feature string) string {
	return strategyKeyPrefix + feature
}

// Get returns the strategy for a feature with its current version.
func (s *Store) Get(ctx context.Context, feature string) (*Strategy, error) {
	rec, err := s.kv.Get(ctx, strategyKey(feature))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrStrategyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy %q: %w", feature, err)
	}

	var st Strategy
	if err := json.Unmarshal(rec.Value, &st); err != nil {
		return nil, fmt.Errorf("unmarshal strategy %q: %w", feature, err)
	}
	st.Version = rec.Version
	return &st, nil
}

// Create persists a new strategy. One strategy per feature.
func (s *Store) Create(ctx context.Context, st *Strategy) error {
	if _, err := s.Get(ctx, st.Feature); err == nil {
		return ErrStrategyExists
	} else if !errors.Is(err, ErrStrategyNotFound) {
		return err
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal strategy %q: %w", st.Feature, err)
	}
	version, err := s.kv.Put(ctx, strategyKey(st.Feature), payload)
	if err != nil {
		return fmt.Errorf("persist strategy %q: %w", st.Feature, err)
	}
	st.Version = version
	return nil
}

// Update replaces the strategy record conditionally on its version.
func (s *Store) Update(ctx context.Context, st *Strategy) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal strategy %q: %w", st.Feature, err)
	}

	version, err := s.kv.Update(ctx, strategyKey(st.Feature), payload, st.Version)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return ErrStrategyNotFound
	case errors.Is(err, kv.ErrVersionConflict):
		return errors.Join(ErrUpdateConflict, err)
	case err != nil:
		return fmt.Errorf("update strategy %q: %w", st.Feature, err)
	}
	st.Version = version
	return nil
}

// List returns all strategies.
func (s *Store) List(ctx context.Context) ([]*Strategy, error) {
	records, err := s.kv.List(ctx, strategyKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}

	strategies := make([]*Strategy, 0, len(records))
	for _, rec := range records {
		var st Strategy
		if err := json.Unmarshal(rec.Value, &st); err != nil {
			return nil, fmt.Errorf("unmarshal strategy %q: %w", rec.Key, err)
		}
		st.Version = rec.Version
		strategies = append(strategies, &st)
	}
	return strategies, nil
}

// MetricsStore persists per-feature telemetry snapshots.
type MetricsStore struct {
	kv  kv.Store
	now func() time.Time
}

// NewMetricsStore creates a metrics store over the given backend.
func NewMetricsStore(backend kv.Store) *MetricsStore {
	return &MetricsStore{kv: backend, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (m *MetricsStore) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Get returns the latest snapshot for a feature. A feature with no
// telemetry yet returns (Metrics{}, false, nil).
func (m *MetricsStore) Get(ctx context.Context, feature string) (Metrics, bool, error) {
	rec, err := m.kv.Get(ctx, metricsKeyPrefix+feature)
	if errors.Is(err, kv.ErrNotFound) {
		return Metrics{}, false, nil
	}
	if err != nil {
		return Metrics{}, false, fmt.Errorf("load metrics %q: %w", feature, err)
	}

	var metrics Metrics
	if err := json.Unmarshal(rec.Value, &metrics); err != nil {
		return Metrics{}, false, fmt.Errorf("unmarshal metrics %q: %w", feature, err)
	}
	return metrics, true, nil
}

// Update merges a partial snapshot into the stored one and stamps
// LastUpdated. Concurrent writers retry on version conflicts.
func (m *MetricsStore) Update(ctx context.Context, feature string, update MetricsUpdate) error {
	key := metricsKeyPrefix + feature

	for attempt := 0; attempt < 3; attempt++ {
		var metrics Metrics
		var version int64

		rec, err := m.kv.Get(ctx, key)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			// first snapshot for this feature
		case err != nil:
			return fmt.Errorf("load metrics %q: %w", feature, err)
		default:
			if err := json.Unmarshal(rec.Value, &metrics); err != nil {
				return fmt.Errorf("unmarshal metrics %q: %w", feature, err)
			}
			version = rec.Version
		}

		applyMetricsUpdate(&metrics, update)
		metrics.LastUpdated = m.now()

		payload, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics %q: %w", feature, err)
		}

		if version == 0 {
			_, err = m.kv.Put(ctx, key, payload)
		} else {
			_, err = m.kv.Update(ctx, key, payload, version)
		}
		if errors.Is(err, kv.ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrUpdateConflict
}

func applyMetricsUpdate(m *Metrics, u MetricsUpdate) {
	if u.SuccessRate != nil {
		m.SuccessRate = *u.SuccessRate
	}
	if u.ErrorRate != nil {
		m.ErrorRate = *u.ErrorRate
	}
	if u.AverageResponseTime != nil {
		m.AverageResponseTime = *u.AverageResponseTime
	}
	if u.TotalCost != nil {
		m.TotalCost = *u.TotalCost
	}
	if u.UserSatisfactionScore != nil {
		m.UserSatisfactionScore = *u.UserSatisfactionScore
	}
	if u.TotalUsersEnrolled != nil {
		m.TotalUsersEnrolled = *u.TotalUsersEnrolled
	}
	if len(u.Custom) > 0 {
		if m.Custom == nil {
			m.Custom = make(map[string]float64, len(u.Custom))
		}
		for k, v := range u.Custom {
			m.Custom[k] = v
		}
	}
}
