package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lotgate/cmd/identity"
	"lotgate/cmd/internal/abuse"
	"lotgate/cmd/internal/auth/session"
	"lotgate/cmd/internal/clientip"
	"lotgate/cmd/internal/notify"
	"lotgate/cmd/internal/verification"
	"lotgate/cmd/security/password"
)

// Store is the slice of identity.Store the handlers touch directly.
type Store interface {
	CreateSubject(ctx context.Context, in identity.CreateSubjectInput) (identity.Subject, error)
	GetSubjectByID(ctx context.Context, id string) (identity.Subject, error)
	GetSubjectByEmail(ctx context.Context, email string) (identity.Subject, error)
	SetSubjectStatus(ctx context.Context, id string, status identity.Status, now time.Time) (identity.Subject, error)
	DeletePendingSubject(ctx context.Context, id string) error
}

// PasswordHasher turns a plaintext password into a storable hash, enforcing policy.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// Guard decides whether an address may register.
type Guard interface {
	IsBlacklisted(ctx context.Context, ip string) bool
	CheckRateLimit(ctx context.Context, ip string) abuse.RateLimit
}

// Ledger issues and consumes verification tokens.
type Ledger interface {
	Issue(ctx context.Context, subject identity.Subject) (string, identity.VerificationToken, error)
	Consume(ctx context.Context, plain, ip string) (verification.Result, error)
}

// Recorder receives registration outcomes (metrics).
type Recorder interface {
	Registration(result string)
}

// Registration results reported to the Recorder.
const (
	RegistrationCreated     = "created"
	RegistrationBlocked     = "blocked"
	RegistrationRateLimited = "rate_limited"
	RegistrationInvalid     = "invalid"
	RegistrationConflict    = "conflict"
	RegistrationError       = "error"
)

// Handler wires HTTP auth endpoints to the identity store, abuse guard and verification ledger.
type Handler struct {
	log *slog.Logger
	cfg Config

	store    Store
	hasher   PasswordHasher
	guard    Guard
	ledger   Ledger
	notifier notify.Service
	sessions session.Provider
	rec      Recorder

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithNotifier overrides the default no-op notification service.
func WithNotifier(n notify.Service) HandlerOption {
	return func(h *Handler) {
		if n != nil {
			h.notifier = n
		}
	}
}

// WithSessionProvider is used by /api/auth/session when the gateway did not attach a session.
func WithSessionProvider(p session.Provider) HandlerOption {
	return func(h *Handler) { h.sessions = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) HandlerOption {
	return func(h *Handler) { h.rec = rec }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, store Store, hasher PasswordHasher, guard Guard, ledger Ledger, opts ...HandlerOption) (*Handler, error) {
	switch {
	case store == nil:
		return nil, errors.New("auth: nil store")
	case hasher == nil:
		return nil, errors.New("auth: nil password hasher")
	case guard == nil:
		return nil, errors.New("auth: nil abuse guard")
	case ledger == nil:
		return nil, errors.New("auth: nil verification ledger")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.NameMaxLen <= 0 {
		cfg.NameMaxLen = 120
	}
	if cfg.EmailMaxLen <= 0 {
		cfg.EmailMaxLen = 254
	}

	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		store:    store,
		hasher:   hasher,
		guard:    guard,
		ledger:   ledger,
		notifier: notify.NoopService{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("GET /api/auth/verify", h.handleVerify)
	mux.HandleFunc("GET /api/auth/session", h.handleSession)
	mux.HandleFunc("GET /api/me", h.handleMe)
	mux.HandleFunc("POST /api/users/{id}/suspend", h.handleSuspend)
	mux.HandleFunc("POST /api/users/{id}/reinstate", h.handleReinstate)
	mux.HandleFunc("GET /api/health", h.handleHealth)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientip.FromRequest(r)

	if h.guard.IsBlacklisted(ctx, ip) {
		h.auditRegisterBlocked(ctx, ip, "blacklisted")
		h.record(RegistrationBlocked)
		writeError(w, http.StatusForbidden, "registration_blocked", "registration is not available from this address")
		return
	}

	rl := h.guard.CheckRateLimit(ctx, ip)
	setRateLimitHeaders(w, rl)
	if !rl.Allowed {
		h.auditRegisterBlocked(ctx, ip, "rate_limited")
		h.record(RegistrationRateLimited)
		writeRateLimited(w, rl, h.now())
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.record(RegistrationInvalid)
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	email, name, ok := h.normalizeRegisterRequest(req)
	if !ok {
		h.record(RegistrationInvalid)
		writeError(w, http.StatusBadRequest, "invalid_request", "email, name and password are required")
		return
	}

	// Skip the argon2 cost for addresses that are already taken. CreateSubject
	// still enforces uniqueness for concurrent registrations.
	if _, err := h.store.GetSubjectByEmail(ctx, email); err == nil {
		h.record(RegistrationConflict)
		writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		return
	} else if !identity.IsNotFound(err) {
		h.log.ErrorContext(ctx, "auth.register.lookup_failed", "err", err)
		h.record(RegistrationError)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		if code, msg, isPolicy := passwordPolicyError(err); isPolicy {
			h.record(RegistrationInvalid)
			writeError(w, http.StatusBadRequest, code, msg)
			return
		}
		h.log.ErrorContext(ctx, "auth.register.hash_failed", "err", err)
		h.record(RegistrationError)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	var registeredIP *string
	if !clientip.IsUnknown(ip) {
		registeredIP = &ip
	}

	sub, err := h.store.CreateSubject(ctx, identity.CreateSubjectInput{
		Email:        email,
		Name:         name,
		Role:         h.cfg.DefaultRole,
		PasswordHash: hash,
		RegisteredIP: registeredIP,
		Now:          h.now(),
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			h.record(RegistrationConflict)
			writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		case identity.IsInvalidInput(err):
			h.record(RegistrationInvalid)
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration")
		default:
			h.log.ErrorContext(ctx, "auth.register.store_failed", "err", err)
			h.record(RegistrationError)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		}
		return
	}

	plain, _, err := h.ledger.Issue(ctx, sub)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.register.token_failed", "subject_id", sub.ID, "err", err)
		h.rollbackSubject(ctx, sub.ID)
		h.record(RegistrationError)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	sent := h.sendVerification(ctx, sub, plain)

	h.auditRegistered(ctx, sub.ID, ip)
	h.record(RegistrationCreated)
	writeJSON(w, http.StatusCreated, registerResponse{
		Subject:          toSubjectResponse(sub),
		VerificationSent: sent,
	})
}

// rollbackSubject removes a subject whose registration could not complete.
func (h *Handler) rollbackSubject(ctx context.Context, id string) {
	if err := h.store.DeletePendingSubject(context.WithoutCancel(ctx), id); err != nil {
		h.log.ErrorContext(ctx, "auth.register.rollback_failed", "subject_id", id, "err", err)
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plain := strings.TrimSpace(r.URL.Query().Get("token"))
	if plain == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "verification token is required")
		return
	}

	ip := clientip.FromRequest(r)
	res, err := h.ledger.Consume(ctx, plain, ip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "verification is temporarily unavailable")
		return
	}
	h.auditVerify(ctx, res.String(), ip)

	switch res {
	case verification.Success:
		writeJSON(w, http.StatusOK, verifyResponse{Message: "email verified", Verified: true})
	case verification.NotFound:
		writeError(w, http.StatusNotFound, "token_not_found", "verification token not found")
	case verification.AlreadyUsed:
		writeError(w, http.StatusBadRequest, "token_already_used", "verification token was already used")
	case verification.Expired:
		writeError(w, http.StatusBadRequest, "token_expired", "verification token has expired")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.currentSession(r)
	if err != nil {
		h.log.ErrorContext(r.Context(), "auth.session.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "session_unavailable", "session service unavailable")
		return
	}
	if s == nil || s.Expired(h.now()) {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}
	info := toSessionInfo(s)
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, Session: &info})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	sub, err := h.store.GetSubjectByID(r.Context(), s.SubjectID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
			return
		}
		h.log.ErrorContext(r.Context(), "auth.me.store_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if sub.Status == identity.StatusSuspended {
		writeError(w, http.StatusForbidden, "account_suspended", "account is suspended")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Subject: toSubjectResponse(sub), Session: toSessionInfo(s)})
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == s.SubjectID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot suspend your own account")
		return
	}
	h.setStatus(w, r, s, id, func(identity.Subject) identity.Status { return identity.StatusSuspended })
}

func (h *Handler) handleReinstate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	h.setStatus(w, r, s, id, func(sub identity.Subject) identity.Status {
		if sub.EmailVerified {
			return identity.StatusActive
		}
		return identity.StatusPending
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// ---- helpers ----

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, actor *session.Session, id string, next func(identity.Subject) identity.Status) {
	ctx := r.Context()
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing subject id")
		return
	}

	sub, err := h.store.GetSubjectByID(ctx, id)
	if err != nil {
		h.writeStoreError(w, r, "auth.subject.lookup_failed", err)
		return
	}

	status := next(sub)
	updated, err := h.store.SetSubjectStatus(ctx, sub.ID, status, h.now())
	if err != nil {
		h.writeStoreError(w, r, "auth.subject.update_failed", err)
		return
	}

	h.auditStatusChange(ctx, actor.SubjectID, updated.ID, string(updated.Status), clientip.FromRequest(r))
	writeJSON(w, http.StatusOK, subjectStatusResponse{Subject: toSubjectResponse(updated)})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, event string, err error) {
	if identity.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", "subject not found")
		return
	}
	h.log.ErrorContext(r.Context(), event, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// currentSession prefers the session attached by the gateway and falls back to the provider.
func (h *Handler) currentSession(r *http.Request) (*session.Session, error) {
	if s, ok := session.FromContext(r.Context()); ok {
		return s, nil
	}
	if h.sessions == nil {
		return nil, nil
	}
	return h.sessions.Session(r)
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.currentSession(r)
	if err != nil {
		h.log.ErrorContext(r.Context(), "auth.session.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "session_unavailable", "session service unavailable")
		return nil, false
	}
	if s == nil || s.Expired(h.now()) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, false
	}
	return s, true
}

func (h *Handler) normalizeRegisterRequest(req registerRequest) (email, name string, ok bool) {
	email = strings.TrimSpace(req.Email)
	name = strings.TrimSpace(req.Name)
	if email == "" || name == "" || req.Password == "" {
		return "", "", false
	}
	if len(email) > h.cfg.EmailMaxLen || len(name) > h.cfg.NameMaxLen {
		return "", "", false
	}
	if !strings.Contains(email, "@") {
		return "", "", false
	}
	return email, name, true
}

func (h *Handler) sendVerification(ctx context.Context, sub identity.Subject, plain string) bool {
	link := verificationLink(h.cfg.VerifyURL, plain)
	res := h.notifier.SendVerification(ctx, sub.Email, sub.Name, link)
	if !res.Success {
		h.log.WarnContext(ctx, "auth.register.verification_email_failed", "subject_id", sub.ID, "err", res.Err)
	}
	return res.Success
}

func (h *Handler) record(result string) {
	if h.rec != nil {
		h.rec.Registration(result)
	}
}

func verificationLink(base, plain string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(plain)
	}
	q := u.Query()
	q.Set("token", plain)
	u.RawQuery = q.Encode()
	return u.String()
}

func passwordPolicyError(err error) (code, msg string, ok bool) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "password_too_short", "password is too short", true
	case errors.Is(err, password.ErrPasswordTooLong):
		return "password_too_long", "password is too long", true
	case errors.Is(err, password.ErrWeakPassword):
		return "weak_password", "password is too weak", true
	default:
		return "", "", false
	}
}
