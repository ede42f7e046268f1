package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quire/api/internal/config"
	"quire/api/internal/identity"
	"quire/api/internal/metrics"
	"quire/api/internal/search"
	"quire/api/internal/store"
)

// Principal is the authenticated caller. A nil *Principal is an anonymous
// visitor.
type Principal struct {
	ID       string
	Email    string
	Username string
}

// DisplayName prefers the username and falls back to the email local part.
func (p *Principal) DisplayName() string {
	if p == nil {
		return ""
	}
	return store.Profile{Email: p.Email, Username: p.Username}.DisplayName()
}

// CaptureStore remembers when each editing session last captured a version.
type CaptureStore interface {
	LastCapture(ctx context.Context, sessionID, documentID string) (time.Time, bool, error)
	MarkCaptured(ctx context.Context, sessionID, documentID string, at time.Time) error
	Ping(ctx context.Context) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

const (
	maxTitleLength        = 200
	versionInsertAttempts = 3
	recentVersionsLimit   = 5
	searchRankLimit       = 200
)

type Service struct {
	store    store.Store
	captures CaptureStore
	identity identity.Provider
	search   *search.Service
	metrics  *metrics.Collector
	logger   *zap.Logger
	clock    Clock

	versionThrottle  time.Duration
	autosaveDebounce time.Duration
}

type Option func(*Service)

func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithSearch(searchService *search.Service) Option {
	return func(s *Service) { s.search = searchService }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Service) { s.metrics = collector }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(cfg config.Config, dataStore store.Store, captures CaptureStore, provider identity.Provider, opts ...Option) *Service {
	s := &Service{
		store:            dataStore,
		captures:         captures,
		identity:         provider,
		logger:           zap.NewNop(),
		clock:            systemClock{},
		versionThrottle:  cfg.VersionThrottle,
		autosaveDebounce: cfg.AutosaveDebounce,
	}
	if s.versionThrottle <= 0 {
		s.versionThrottle = 60 * time.Second
	}
	if s.autosaveDebounce <= 0 {
		s.autosaveDebounce = 2 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AutosaveDebounce() time.Duration {
	return s.autosaveDebounce
}

// Ping checks the persistence backend and the capture store.
func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"backend":  s.store.Ping(ctx),
		"sessions": s.captures.Ping(ctx),
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
