package pairing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"handoff/cmd/internal/auth/session"
	"handoff/cmd/internal/clock"
	"handoff/cmd/internal/ids"
	"handoff/cmd/security/token"
)

const (
	maxUserIDLen    = 128
	maxUserEmailLen = 320
)

// Sessions is the part of the session service pairing depends on.
type Sessions interface {
	Mint(now time.Time, source session.Source) (session.Session, error)
	Lookup(ctx context.Context, sessionID string) (session.Session, error)
}

// IssueInput describes token issuance. The caller has already authenticated
// the identity.
type IssueInput struct {
	UserID    string
	UserEmail string
	Initiator Initiator
}

// Issued is returned to the issuing side. TokenID is the capability and must
// only reach the browser that will display it.
type Issued struct {
	ID        string
	TokenID   string
	QRPayload string
	ExpiresAt time.Time
}

// PollResult is what the waiting web page observes.
type PollResult struct {
	Status    Status
	SessionID string
	UserEmail string
	ExpiresAt time.Time
}

// Service issues, redeems and polls pairing tokens.
type Service struct {
	cfg      Config
	store    Store
	sessions Sessions
	hasher   token.Hasher
	clock    clock.Clock
	log      *slog.Logger
	metrics  *Metrics
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

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics enables pairing counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHasher sets how token ids are hashed before they reach the store.
// The default is unkeyed SHA-256.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, sessions Sessions, opts ...Option) (*Service, error) {
	if store == nil || sessions == nil {
		return nil, ErrInvalidInput
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		clock:    clock.System{},
		log:      slog.Default(),
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

// IssueToken creates a PENDING token bound to the caller's identity.
func (s *Service) IssueToken(ctx context.Context, in IssueInput) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	userID := strings.TrimSpace(in.UserID)
	userEmail := normalizeEmail(in.UserEmail)
	if userID == "" || len(userID) > maxUserIDLen {
		return Issued{}, ErrInvalidInput
	}
	if userEmail == "" || len(userEmail) > maxUserEmailLen || !strings.Contains(userEmail, "@") {
		return Issued{}, ErrInvalidInput
	}
	initiator := in.Initiator
	if initiator == "" {
		initiator = InitiatorMobile
	}
	if !initiator.Valid() {
		return Issued{}, ErrInvalidInput
	}

	now := s.clock.Now()

	if s.cfg.RevokePriorPending {
		n, err := s.store.ExpirePendingForUser(ctx, userID, PurposeWebLogin)
		if err != nil {
			return Issued{}, storageErr("pairing.IssueToken", err)
		}
		if n > 0 {
			s.log.Info("pairing.issue.revoked_prior", "user_id", userID, "count", n)
		}
	}

	tokenID, err := token.NewOpaque(s.cfg.TokenBytes)
	if err != nil {
		return Issued{}, err
	}
	recordID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	tok, err := s.store.Create(ctx, CreateRecord{
		ID:        recordID,
		TokenHash: s.hasher.Hash(tokenID),
		UserID:    userID,
		UserEmail: userEmail,
		Purpose:   PurposeWebLogin,
		Initiator: initiator,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	})
	if err != nil {
		s.log.Error("pairing.issue.fail", "err", err)
		return Issued{}, storageErr("pairing.IssueToken", err)
	}

	qr, err := NewPayload(tokenID, s.cfg.Domain, now).Encode()
	if err != nil {
		return Issued{}, err
	}

	s.metrics.tokenIssued(initiator)
	s.log.Info("pairing.issue.success", "pairing_id", tok.ID, "initiator", string(initiator))

	return Issued{
		ID:        tok.ID,
		TokenID:   tokenID,
		QRPayload: qr,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

// RedeemToken consumes a live token and returns the one session it mints.
//
// Concurrent calls for the same token have exactly one winner; the rest see
// ErrAlreadyRedeemed. A token past its TTL yields ErrExpired and is marked
// EXPIRED. Unknown ids yield ErrNotFound.
func (s *Service) RedeemToken(ctx context.Context, tokenID string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	tokenID = strings.TrimSpace(tokenID)
	if !ValidTokenID(tokenID) {
		s.metrics.redemption("not_found")
		return session.Session{}, ErrNotFound
	}

	now := s.clock.Now()
	sess, err := s.sessions.Mint(now, session.SourceQRPairing)
	if err != nil {
		return session.Session{}, err
	}

	hash := s.hasher.Hash(tokenID)
	red, err := s.store.Redeem(ctx, RedeemRecord{
		TokenHash: hash,
		Purpose:   PurposeWebLogin,
		Now:       now,
		Session:   sess,
	})
	switch {
	case err == nil:
		s.metrics.redemption("success")
		s.log.Info("pairing.redeem.success", "pairing_id", red.Token.ID, "user_id", red.Session.UserID)
		return red.Session, nil
	case errors.Is(err, ErrAlreadyRedeemed):
		s.metrics.redemption("already_redeemed")
		s.log.Info("pairing.redeem.conflict")
		return session.Session{}, ErrAlreadyRedeemed
	case errors.Is(err, ErrExpired):
		s.metrics.redemption("expired")
		if merr := s.store.MarkExpired(ctx, hash, now); merr != nil && !errors.Is(merr, ErrNotFound) {
			s.log.Warn("pairing.redeem.mark_expired.fail", "err", merr)
		}
		return session.Session{}, ErrExpired
	case errors.Is(err, ErrNotFound):
		s.metrics.redemption("not_found")
		return session.Session{}, ErrNotFound
	default:
		s.metrics.redemption("error")
		s.log.Error("pairing.redeem.fail", "err", err)
		return session.Session{}, storageErr("pairing.RedeemToken", err)
	}
}

// PollStatus reports a token's state to the waiting page. It never writes.
//
// Unknown tokens read as expired.
func (s *Service) PollStatus(ctx context.Context, tokenID string) (PollResult, error) {
	res, err := s.poll(ctx, tokenID)
	if err != nil {
		return PollResult{}, err
	}
	s.metrics.poll(res.Status)
	return res, nil
}

func (s *Service) poll(ctx context.Context, tokenID string) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	expired := PollResult{Status: StatusExpired}

	tokenID = strings.TrimSpace(tokenID)
	if !ValidTokenID(tokenID) {
		return expired, nil
	}

	tok, err := s.store.GetByTokenHash(ctx, s.hasher.Hash(tokenID))
	if errors.Is(err, ErrNotFound) {
		return expired, nil
	}
	if err != nil {
		return PollResult{}, storageErr("pairing.PollStatus", err)
	}
	if tok.Purpose != PurposeWebLogin {
		return expired, nil
	}

	switch tok.State {
	case StatePending:
		if tok.Live(s.clock.Now()) {
			return PollResult{Status: StatusPending, ExpiresAt: tok.ExpiresAt}, nil
		}
		return expired, nil

	case StateRedeemed:
		if tok.RedeemedSessionID == nil {
			return expired, nil
		}
		sess, err := s.sessions.Lookup(ctx, *tok.RedeemedSessionID)
		if session.IsInvalid(err) {
			return expired, nil
		}
		if err != nil {
			return PollResult{}, storageErr("pairing.PollStatus", err)
		}
		return PollResult{
			Status:    StatusAuthenticated,
			SessionID: sess.ID,
			UserEmail: sess.UserEmail,
			ExpiresAt: sess.ExpiresAt,
		}, nil

	default:
		return expired, nil
	}
}

// PurgeExpired deletes tokens whose expiry is older than the retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	n, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, storageErr("pairing.PurgeExpired", err)
	}
	return n, nil
}

// storageErr wraps backend failures. Context errors, invalid input and
// existing StorageErrors pass through.
func storageErr(op string, err error) error {
	var se StorageError
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrInvalidInput):
		return err
	}
	return StorageError{Op: op, Err: err}
}
