package orgconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/logger"
)

// ErrConfigUnavailable means the borrowing limit could not be read. Callers
// of MaxLoans never see it; it is recovered with DefaultMaxLoans.
var ErrConfigUnavailable = errors.New("organization configuration unavailable")

// ErrInvalidSettings is returned by Save for settings that cannot be stored.
var ErrInvalidSettings = errors.New("invalid settings")

// Cache is a shared byte cache in front of the settings documents.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	store      docstore.Store
	org        string
	cache      Cache
	ttl        time.Duration
	defaultMax int

	mu       sync.Mutex
	settings *Settings
	maxLoans int
}

type Option func(*Service)

// WithCache puts a shared cache in front of the store.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithDefaultMaxLoans overrides the limit used when the stored one is unusable.
func WithDefaultMaxLoans(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultMax = n
		}
	}
}

// New reads the settings of org. An empty org uses the shared document only.
func New(store docstore.Store, org string, opts ...Option) *Service {
	if org == "" {
		org = GlobalDoc
	}
	s := &Service{store: store, org: org, defaultMax: DefaultMaxLoans}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) cacheKey(part string) string {
	return "bibliopanel:orgconfig:" + s.org + ":" + part
}

// Settings returns the organisation settings, loading them on first use.
// The organisation document wins over the shared one; when neither can be
// read the defaults are returned.
func (s *Service) Settings(ctx context.Context) Settings {
	s.mu.Lock()
	if s.settings != nil {
		cur := *s.settings
		s.mu.Unlock()
		return cur
	}
	s.mu.Unlock()

	settings := s.loadSettings(ctx)
	settings.MaximumSimultaneousLoans = s.MaxLoans(ctx)

	s.mu.Lock()
	s.settings = &settings
	s.mu.Unlock()
	return settings
}

func (s *Service) loadSettings(ctx context.Context) Settings {
	var cached Settings
	if s.fromCache(ctx, s.cacheKey("settings"), &cached) {
		return cached
	}

	settings, err := s.fetchSettings(ctx)
	if err != nil {
		logger.Warn("organization settings unavailable, using defaults", "org", s.org, "error", err)
		return Defaults()
	}
	s.toCache(ctx, s.cacheKey("settings"), settings)
	return settings
}

func (s *Service) fetchSettings(ctx context.Context) (Settings, error) {
	logger.StoreCall("get", Collection, "id", s.org)
	snap, err := s.store.Get(ctx, Collection, s.org)
	if err == nil {
		return FromDocument(snap.Data), nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return Settings{}, err
	}
	if s.org != GlobalDoc {
		snap, err = s.store.Get(ctx, Collection, GlobalDoc)
		if err == nil {
			return FromDocument(snap.Data), nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return Settings{}, err
		}
	}
	logger.Info("no organization settings stored, using defaults", "org", s.org)
	return Defaults(), nil
}

// MaxLoans returns the number of slots each user has. It is read from the
// shared settings document once per process; a missing, unreadable or
// non-positive value yields the default.
func (s *Service) MaxLoans(ctx context.Context) int {
	s.mu.Lock()
	if s.maxLoans > 0 {
		n := s.maxLoans
		s.mu.Unlock()
		return n
	}
	s.mu.Unlock()

	n, err := s.fetchMaxLoans(ctx)
	if err != nil {
		logger.Warn("using default borrowing limit", "default", s.defaultMax, "error", err)
		// not memoized so the next call retries the store
		return s.defaultMax
	}

	s.mu.Lock()
	s.maxLoans = n
	s.mu.Unlock()
	return n
}

func (s *Service) fetchMaxLoans(ctx context.Context) (int, error) {
	var n int
	if s.fromCache(ctx, s.cacheKey("maxLoans"), &n) && n > 0 {
		return n, nil
	}

	snap, err := s.store.Get(ctx, Collection, GlobalDoc)
	logger.StoreResult("get", Collection, err, "id", GlobalDoc)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	n, ok := docstore.Int(snap.Data, "MaximumSimultaneousLoans")
	if !ok || n <= 0 {
		return 0, fmt.Errorf("%w: MaximumSimultaneousLoans is %v", ErrConfigUnavailable, snap.Data["MaximumSimultaneousLoans"])
	}
	s.toCache(ctx, s.cacheKey("maxLoans"), n)
	return n, nil
}

// Refresh drops the memoized and cached values and reloads them.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.settings = nil
	s.maxLoans = 0
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.cacheKey("settings"), s.cacheKey("maxLoans")); err != nil {
			logger.Warn("settings cache invalidation failed", "error", err)
		}
	}
	if _, err := s.fetchMaxLoans(ctx); err != nil {
		return err
	}
	s.Settings(ctx)
	return nil
}

// Save writes settings to the organisation document and keeps the shared
// borrowing limit in step with it.
func (s *Service) Save(ctx context.Context, settings Settings) error {
	if settings.MaximumSimultaneousLoans <= 0 {
		return fmt.Errorf("%w: MaximumSimultaneousLoans must be positive, got %d", ErrInvalidSettings, settings.MaximumSimultaneousLoans)
	}
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(Collection, s.org, settings.Document()); err != nil {
			return err
		}
		if s.org == GlobalDoc {
			return nil
		}
		return tx.Set(Collection, GlobalDoc, map[string]any{
			"MaximumSimultaneousLoans": settings.MaximumSimultaneousLoans,
		})
	})
	logger.StoreResult("save", Collection, err, "id", s.org)
	if err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Service) fromCache(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("settings cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Warn("settings cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Service) toCache(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		logger.Warn("settings cache write failed", "key", key, "error", err)
	}
}
