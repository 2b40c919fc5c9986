package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"handoff/cmd/internal/clock"
	"handoff/cmd/security/token"
)

// maxSessionIDLen bounds inputs before they reach the store.
const maxSessionIDLen = 256

// Service implements session creation and verification.
type Service struct {
	cfg     Config
	store   Store
	clock   clock.Clock
	log     *slog.Logger
	metrics *Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger used for best-effort eviction failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics enables verification counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service. The store is required.
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:   cfg,
		store: store,
		clock: clock.System{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfg }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Mint allocates a fresh, unbound session starting at now.
//
// The identity is left empty for the caller to fill in from whatever
// authorized the session, so that binding and persisting can happen in the
// same atomic write (for pairing: the token claim).
func (s *Service) Mint(now time.Time, source Source) (Session, error) {
	if source == "" {
		return Session{}, ErrInvalidInput
	}
	sid, err := token.NewOpaque(s.cfg.TokenBytes)
	if err != nil {
		return Session{}, err
	}
	return Session{
		ID:        sid,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
		Source:    source,
	}, nil
}

// NewSession builds, but does not persist, a session for id starting at now.
func (s *Service) NewSession(now time.Time, id Identity, source Source) (Session, error) {
	if strings.TrimSpace(id.UserID) == "" || strings.TrimSpace(id.UserEmail) == "" {
		return Session{}, ErrInvalidInput
	}
	sess, err := s.Mint(now, source)
	if err != nil {
		return Session{}, err
	}
	return sess.Bind(id), nil
}

// Create builds and persists a session in one step (password login path).
func (s *Service) Create(ctx context.Context, id Identity, source Source) (Session, error) {
	sess, err := s.NewSession(s.clock.Now(), id, source)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, StorageError{Op: "session.Create", Err: err}
	}
	return sess, nil
}

// Lookup returns the live session for sessionID.
//
// Expired rows are reported as ErrSessionExpired and evicted best-effort.
func (s *Service) Lookup(ctx context.Context, sessionID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || len(sessionID) > maxSessionIDLen {
		return Session{}, ErrSessionNotFound
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, StorageError{Op: "session.Lookup", Err: err}
	}

	if sess.Expired(s.clock.Now()) {
		if err := s.store.Delete(ctx, sess.ID); err != nil {
			s.log.Warn("session.evict.fail", "err", err)
		}
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// VerifySession resolves a session id to its identity.
//
// ErrSessionNotFound and ErrSessionExpired both mean "invalid"; use IsInvalid.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (Identity, error) {
	sess, err := s.Lookup(ctx, sessionID)
	switch {
	case err == nil:
		s.metrics.verification("valid")
		return sess.Identity(), nil
	case errors.Is(err, ErrSessionExpired):
		s.metrics.verification("expired")
	case errors.Is(err, ErrSessionNotFound):
		s.metrics.verification("not_found")
	default:
		s.metrics.verification("error")
	}
	return Identity{}, err
}

// PurgeExpired deletes sessions that expired at or before now.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, StorageError{Op: "session.PurgeExpired", Err: err}
	}
	return n, nil
}
