package flag

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/gatekit/pkg/alert"
	"github.com/dmitrymomot/gatekit/pkg/bucket"
	"github.com/dmitrymomot/gatekit/pkg/cache"
)

// variantSaltSuffix keeps variant assignment statistically independent from
// rollout inclusion: the two decisions hash with different salts.
const variantSaltSuffix = ":variant"

// updateRetries bounds the optimistic retry loop on concurrent writes.
const updateRetries = 3

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCacheTTL sets the read-through cache TTL. Default is 5 minutes.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithCacheSize bounds the number of cached flags. Default is unbounded.
func WithCacheSize(n int) ServiceOption {
	return func(s *Service) { s.cacheSize = n }
}

// WithAlerts sets the notification publisher for emergency shutdowns.
func WithAlerts(publisher alert.Publisher) ServiceOption {
	return func(s *Service) {
		if publisher != nil {
			s.alerts = publisher
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the flag store facade: durable records behind a TTL cache,
// reason-coded evaluation, and write operations that invalidate the cache
// synchronously.
type Service struct {
	store     *Store
	cache     *cache.TTL[string, *Flag]
	cacheTTL  time.Duration
	cacheSize int
	alerts    alert.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a flag service over the given store.
func NewService(store *Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		cacheTTL: 5 * time.Minute,
		alerts:   alert.NopPublisher{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.NewTTL[string, *Flag](s.cacheTTL, s.cacheSize)
	return s
}

// Get returns the flag, serving from cache within the TTL window. Cache
// entries can be stale up to the TTL; that staleness is acceptable for
// rollout eligibility but never for emergency shutdown, which invalidates
// synchronously on write.
func (s *Service) Get(ctx context.Context, name string) (*Flag, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached, nil
	}

	f, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Put(name, f)
	return f, nil
}

// IsEnabled evaluates the flag for a subject. Store unavailability reports
// flag_not_found: the fail-safe default for gated features is off.
func (s *Service) IsEnabled(ctx context.Context, name string, subject Subject) Decision {
	f, err := s.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrFlagNotFound) {
			s.logger.ErrorContext(ctx, "flag read failed, reporting not found",
				slog.String("flag", name),
				slog.String("error", err.Error()))
		}
		return Decision{Enabled: false, Reason: ReasonFlagNotFound}
	}
	return s.evaluate(f, subject)
}

func (s *Service) evaluate(f *Flag, subject Subject) Decision {
	if f.EmergencyShutdown {
		return Decision{Enabled: false, Reason: ReasonEmergencyShutdown}
	}
	if !f.Enabled {
		return Decision{Enabled: false, Reason: ReasonGloballyDisabled}
	}
	if f.CostThreshold != nil && subject.TotalCost >= *f.CostThreshold {
		return Decision{Enabled: false, Reason: ReasonCostThresholdExceeded}
	}
	if !bucket.InPercentage(subject.ID, f.Name, f.RolloutPercentage) {
		return Decision{Enabled: false, Reason: ReasonNotInRollout}
	}
	if f.ABTest.ActiveAt(s.now()) {
		return Decision{
			Enabled: true,
			Variant: assignVariant(f.ABTest, subject.ID, f.Name),
			Reason:  ReasonABTestActive,
		}
	}
	return Decision{Enabled: true, Reason: ReasonFullyEnabled}
}

// assignVariant walks the traffic split in declared variant order, so the
// split partitions [0,100) deterministically.
func assignVariant(cfg *ABTestConfig, subjectID, flagName string) string {
	b := bucket.Bucket(subjectID, flagName+variantSaltSuffix)
	cum := 0
	for _, v := range cfg.Variants {
		cum += cfg.TrafficSplit[v.Name]
		if b < cum {
			return v.Name
		}
	}
	// Unreachable for a validated split; fall back to the last variant.
	return cfg.Variants[len(cfg.Variants)-1].Name
}

// Create validates and persists a new flag.
func (s *Service) Create(ctx context.Context, f *Flag, actor string) error {
	if f == nil || f.Name == "" {
		return errors.Join(ErrInvalidFlag, errors.New("flag name cannot be empty"))
	}
	if err := f.ABTest.Validate(); err != nil {
		return err
	}

	f.RolloutPercentage = clampPercentage(f.RolloutPercentage)
	now := s.now()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.UpdatedBy = actor

	if err := s.store.Create(ctx, f); err != nil {
		return err
	}
	s.cache.Remove(f.Name)
	return nil
}

// Update applies a partial mutation, stamping the actor and time, with an
// optimistic retry loop against concurrent writers. The cache entry is
// invalidated synchronously before returning.
func (s *Service) Update(ctx context.Context, name string, update Update, actor string) (*Flag, error) {
	if update.ABTest != nil {
		if err := update.ABTest.Validate(); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		// Read the durable record directly: merging over a cached copy
		// would base the write on a possibly stale version.
		f, err := s.store.Get(ctx, name)
		if err != nil {
			return nil, err
		}

		applyUpdate(f, update)
		f.UpdatedBy = actor
		f.UpdatedAt = s.now()

		err = s.store.Update(ctx, f)
		if errors.Is(err, ErrUpdateConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		s.cache.Remove(name)
		return f, nil
	}
	return nil, lastErr
}

func applyUpdate(f *Flag, update Update) {
	if update.Description != nil {
		f.Description = *update.Description
	}
	if update.Enabled != nil {
		f.Enabled = *update.Enabled
	}
	if update.RolloutPercentage != nil {
		f.RolloutPercentage = clampPercentage(*update.RolloutPercentage)
	}
	if update.ABTest != nil {
		f.ABTest = update.ABTest
	}
	if update.CostThreshold != nil {
		f.CostThreshold = update.CostThreshold
	}
	if update.EmergencyShutdown != nil {
		f.EmergencyShutdown = *update.EmergencyShutdown
	}
}

// SetRolloutPercentage pushes a new rollout percentage. Used by the rollout
// engine's increment and promotion paths.
func (s *Service) SetRolloutPercentage(ctx context.Context, name string, pct int, actor string) (*Flag, error) {
	pct = clampPercentage(pct)
	return s.Update(ctx, name, Update{RolloutPercentage: &pct}, actor)
}

// EmergencyShutdown disables the flag and marks it shut down. Idempotent.
// The cache is invalidated before returning so no read can observe the
// pre-shutdown state, and an alert is published best-effort: a down
// notification channel never blocks the shutdown itself.
func (s *Service) EmergencyShutdown(ctx context.Context, name, reason, actor string) error {
	f, err := s.store.Get(ctx, name)
	if err != nil {
		return err
	}
	if f.EmergencyShutdown && !f.Enabled {
		return nil
	}

	enabled := false
	shutdown := true
	if _, err := s.Update(ctx, name, Update{Enabled: &enabled, EmergencyShutdown: &shutdown}, actor); err != nil {
		return err
	}

	if err := s.alerts.Publish(ctx, alert.Message{
		Topic:    alert.TopicEmergencyShutdown,
		Subject:  name,
		Severity: alert.SeverityCritical,
		Body:     reason,
		At:       s.now(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "emergency shutdown alert failed",
			slog.String("flag", name),
			slog.String("error", err.Error()))
	}

	s.logger.WarnContext(ctx, "emergency shutdown",
		slog.String("flag", name),
		slog.String("reason", reason),
		slog.String("actor", actor))
	return nil
}

// Delete removes a flag and its cache entry.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.cache.Remove(name)
	return nil
}

// List returns all flags, bypassing the cache.
func (s *Service) List(ctx context.Context) ([]*Flag, error) {
	return s.store.List(ctx)
}

// Invalidate drops the cached entry for a flag. Exposed for collaborators
// that mutate flag state through their own paths.
func (s *Service) Invalidate(name string) {
	s.cache.Remove(name)
}
