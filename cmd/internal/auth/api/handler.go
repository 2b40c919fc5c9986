package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"handoff/cmd/internal/auth/session"
	"handoff/cmd/internal/clock"
	"handoff/cmd/internal/pairing"
)

// PairingService is the pairing surface exposed over HTTP.
type PairingService interface {
	IssueToken(ctx context.Context, in pairing.IssueInput) (pairing.Issued, error)
	RedeemToken(ctx context.Context, tokenID string) (session.Session, error)
	PollStatus(ctx context.Context, tokenID string) (pairing.PollResult, error)
	Config() pairing.Config
}

// SessionVerifier resolves session ids for protected handlers.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (session.Identity, error)
}

// Handler wires HTTP auth endpoints to the pairing and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	pairing  PairingService
	sessions SessionVerifier

	validate *validator.Validate
	caller   CallerVerifier
	clock    clock.Clock

	issueLimiter  *IPRateLimiter
	redeemLimiter *IPRateLimiter
	pollLimiter   *IPRateLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithCallerVerifier overrides the caller verifier derived from Config.
func WithCallerVerifier(v CallerVerifier) HandlerOption {
	return func(h *Handler) {
		if h == nil || v == nil {
			return
		}
		h.caller = v
	}
}

// WithHandlerClock overrides the time source used by rate limiters.
func WithHandlerClock(c clock.Clock) HandlerOption {
	return func(h *Handler) {
		if h == nil || c == nil {
			return
		}
		h.clock = c
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, pairingSvc PairingService, sessions SessionVerifier, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if pairingSvc == nil || sessions == nil {
		return nil, errors.New("authapi: nil service")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		log:           log,
		cfg:           cfg,
		pairing:       pairingSvc,
		sessions:      sessions,
		validate:      newValidator(),
		caller:        NoopCallerVerifier{},
		clock:         clock.System{},
		issueLimiter:  NewIPRateLimiter(cfg.IssueIPMax, cfg.IssueIPWindow),
		redeemLimiter: NewIPRateLimiter(cfg.RedeemIPMax, cfg.RedeemIPWindow),
		pollLimiter:   NewIPRateLimiter(cfg.PollIPMax, cfg.PollIPWindow),
	}
	if cfg.CallerKey != "" {
		h.caller = SharedKeyVerifier{Header: cfg.CallerKeyHeader, Key: cfg.CallerKey}
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/auth/pairing-tokens", h.handleIssue)
	mux.HandleFunc("POST /api/auth/pairing-tokens/redeem", h.handleRedeemPayload)
	mux.HandleFunc("POST /api/auth/pairing-tokens/{token_id}/redeem", h.handleRedeem)
	mux.HandleFunc("GET /api/auth/pairing-tokens/{token_id}", h.handlePoll)
	mux.HandleFunc("GET /api/auth/session", h.handleSession)
	mux.HandleFunc("DELETE /api/auth/session", h.handleClearSession)
}

// ---- handlers ----

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, h.issueLimiter) || !h.verifyCaller(w, r) {
		return
	}

	var req issueRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, formatValidationErrors(err))
		return
	}

	issued, err := h.pairing.IssueToken(r.Context(), pairing.IssueInput{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		Initiator: pairing.Initiator(req.Initiator),
	})
	if err != nil {
		h.writePairingError(w, "auth.pairing.issue", err)
		return
	}

	writeJSON(w, http.StatusCreated, issueResponse{
		ID:        issued.ID,
		TokenID:   issued.TokenID,
		QRPayload: issued.QRPayload,
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, h.redeemLimiter) || !h.verifyCaller(w, r) {
		return
	}
	h.redeem(w, r, r.PathValue("token_id"))
}

// handleRedeemPayload redeems a scanned QR payload as-is, so scanners do not
// need to understand its encoding.
func (h *Handler) handleRedeemPayload(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, h.redeemLimiter) || !h.verifyCaller(w, r) {
		return
	}

	var req redeemPayloadRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, formatValidationErrors(err))
		return
	}
	p, err := pairing.DecodePayload(req.QRPayload)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "qr_payload is malformed")
		return
	}
	// A payload minted by another deployment can never match a token here.
	if !strings.EqualFold(p.Domain, h.pairing.Config().Domain) {
		writeGone(w)
		return
	}
	h.redeem(w, r, p.Token)
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request, tokenID string) {
	sess, err := h.pairing.RedeemToken(r.Context(), tokenID)
	if err != nil {
		h.writePairingError(w, "auth.pairing.redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, h.pollLimiter) {
		return
	}

	res, err := h.pairing.PollStatus(r.Context(), r.PathValue("token_id"))
	if err != nil {
		h.writePairingError(w, "auth.pairing.poll", err)
		return
	}

	out := pollResponse{Status: string(res.Status)}
	switch res.Status {
	case pairing.StatusAuthenticated:
		out.SessionID = res.SessionID
		out.UserEmail = res.UserEmail
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
		h.setSessionCookie(w, res.SessionID, res.ExpiresAt)
	case pairing.StatusPending:
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.verifyRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{UserID: id.UserID, UserEmail: id.UserEmail})
}

// handleClearSession drops the session cookie on this browser. The session
// itself lives until its fixed expiry.
func (h *Handler) handleClearSession(w http.ResponseWriter, _ *http.Request) {
	h.expireSessionCookie(w)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) verifyRequest(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	sid, fromCookie := h.sessionIDFromRequest(r)
	if sid == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing session")
		return session.Identity{}, false
	}

	id, err := h.sessions.VerifySession(r.Context(), sid)
	switch {
	case err == nil:
		return id, true
	case session.IsInvalid(err):
		if fromCookie {
			h.expireSessionCookie(w)
		}
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "session not valid")
	case errors.Is(err, session.ErrStorageUnavailable):
		h.log.Error("auth.session.verify.fail", "err", err)
		setRetryAfter(w, h.cfg.RetryAfter)
		writeError(w, http.StatusServiceUnavailable, codeStorageUnavailable, "please retry later")
	default:
		h.log.Error("auth.session.verify.fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeServerError, "internal error")
	}
	return session.Identity{}, false
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, l *IPRateLimiter) bool {
	ok, retryAfter := l.Allow(clientIP(r, h.cfg.TrustProxy), h.clock.Now())
	if !ok {
		writeRateLimited(w, retryAfter)
	}
	return ok
}

func (h *Handler) verifyCaller(w http.ResponseWriter, r *http.Request) bool {
	if err := h.caller.VerifyCaller(r); err != nil {
		writeError(w, http.StatusUnauthorized, codeCallerUnauthorized, "caller not authorized")
		return false
	}
	return true
}

func (h *Handler) writePairingError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, pairing.ErrAlreadyRedeemed):
		writeError(w, http.StatusConflict, codeAlreadyRedeemed, "pairing token already used")
	case pairing.IsGone(err):
		writeGone(w)
	case errors.Is(err, pairing.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request")
	case errors.Is(err, pairing.ErrStorageUnavailable):
		h.log.Error(event+".fail", "err", err)
		setRetryAfter(w, h.cfg.RetryAfter)
		writeError(w, http.StatusServiceUnavailable, codeStorageUnavailable, "please retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, codeTimeout, "please retry later")
	default:
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeServerError, "internal error")
	}
}

// writeGone is the single response for unknown and expired tokens.
func writeGone(w http.ResponseWriter) {
	writeError(w, http.StatusGone, codeExpired, "pairing token expired, please try again")
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters long", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
