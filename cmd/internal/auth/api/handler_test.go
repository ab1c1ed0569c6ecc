package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"lotgate/cmd/identity"
	"lotgate/cmd/internal/abuse"
	"lotgate/cmd/internal/auth/session"
	"lotgate/cmd/internal/notify"
	"lotgate/cmd/internal/verification"
	"lotgate/cmd/security/password"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type captureNotifier struct {
	mu    sync.Mutex
	links []string
	fail  bool
}

func (n *captureNotifier) SendWelcome(context.Context, string, string) notify.Result {
	return notify.Result{Success: true}
}

func (n *captureNotifier) SendVerification(_ context.Context, _, _, link string) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return notify.Result{Err: errors.New("smtp down")}
	}
	n.links = append(n.links, link)
	return notify.Result{Success: true}
}

func (n *captureNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.links) == 0 {
		t.Fatalf("no verification link captured")
	}
	u, err := url.Parse(n.links[len(n.links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Query().Get("token")
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Registration(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[result]++
}

func (r *countingRecorder) get(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[result]
}

type testEnv struct {
	mux      *http.ServeMux
	store    *identity.MemoryStore
	clock    *testClock
	notifier *captureNotifier
	rec      *countingRecorder

	// sess is returned by the session provider when non-nil.
	sess *session.Session
}

func testHasher() password.Hasher {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return password.NewHasher(cfg)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLedger(t, nil)
}

func newTestEnvWithLedger(t *testing.T, ledger Ledger) *testEnv {
	t.Helper()

	env := &testEnv{
		mux:      http.NewServeMux(),
		store:    identity.NewMemoryStore(),
		clock:    &testClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		notifier: &captureNotifier{},
		rec:      &countingRecorder{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	guard := abuse.NewGuard(env.store, abuse.Config{Threshold: 3, Window: time.Hour},
		abuse.WithLogger(log), abuse.WithClock(env.clock.Now))
	if ledger == nil {
		l := verification.NewLedger(env.store, env.notifier, verification.DefaultConfig(),
			verification.WithLogger(log), verification.WithClock(env.clock.Now))
		t.Cleanup(l.Wait)
		ledger = l
	}

	cfg := Config{
		MaxBodyBytes: 4 << 10,
		DefaultRole:  "emprendedores",
		VerifyURL:    "https://autos.example.com/api/auth/verify",
	}
	provider := session.ProviderFunc(func(*http.Request) (*session.Session, error) {
		return env.sess, nil
	})

	h, err := NewHandler(cfg, env.store, testHasher(), guard, ledger,
		WithLogger(log),
		WithNotifier(env.notifier),
		WithSessionProvider(provider),
		WithRecorder(env.rec),
		WithClock(env.clock.Now),
	)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	h.Register(env.mux)
	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	env.mux.ServeHTTP(rr, req)
	return rr
}

func (env *testEnv) register(ip, email, pw string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(registerRequest{Email: email, Name: "Lucia Perez", Password: pw})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("X-Real-Ip", ip)
	}
	return env.do(req)
}

func (env *testEnv) verify(token string) *httptest.ResponseRecorder {
	target := "/api/auth/verify"
	if token != "" {
		target += "?token=" + url.QueryEscape(token)
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Real-Ip", "198.51.100.20")
	return env.do(req)
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Code
}

func mustRegister(t *testing.T, env *testEnv, ip, email string) registerResponse {
	t.Helper()
	rr := env.register(ip, email, "Concesionario-2024!")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: status=%d body=%s", email, rr.Code, rr.Body.String())
	}
	var out registerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	return out
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	t.Parallel()
	st := identity.NewMemoryStore()
	guard := abuse.NewGuard(st, abuse.DefaultConfig())
	ledger := verification.NewLedger(st, nil, verification.DefaultConfig())

	if _, err := NewHandler(Config{}, nil, testHasher(), guard, ledger); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewHandler(Config{}, st, nil, guard, ledger); err == nil {
		t.Fatalf("expected error for nil hasher")
	}
	if _, err := NewHandler(Config{}, st, testHasher(), nil, ledger); err == nil {
		t.Fatalf("expected error for nil guard")
	}
	if _, err := NewHandler(Config{}, st, testHasher(), guard, nil); err == nil {
		t.Fatalf("expected error for nil ledger")
	}
}

func TestRegister_Created(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := env.register("203.0.113.7", "Lucia@Example.com", "Concesionario-2024!")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("X-RateLimit-Limit=%q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "3" {
		t.Fatalf("X-RateLimit-Remaining=%q", got)
	}

	var out registerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Subject.Status != string(identity.StatusPending) || out.Subject.EmailVerified {
		t.Fatalf("expected pending unverified subject, got %+v", out.Subject)
	}
	if out.Subject.Role != "emprendedores" {
		t.Fatalf("role=%q", out.Subject.Role)
	}
	if !out.VerificationSent {
		t.Fatalf("expected verification_sent")
	}

	sub, err := env.store.GetSubjectByID(context.Background(), out.Subject.ID)
	if err != nil {
		t.Fatalf("GetSubjectByID: %v", err)
	}
	if sub.RegisteredIP == nil || *sub.RegisteredIP != "203.0.113.7" {
		t.Fatalf("registered ip=%v", sub.RegisteredIP)
	}
	if env.notifier.lastToken(t) == "" {
		t.Fatalf("expected token in verification link")
	}
	if env.rec.get(RegistrationCreated) != 1 {
		t.Fatalf("expected one created registration recorded")
	}
}

func TestRegister_UnknownIPSkipsAbuseChecks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		rr := env.register("", email, "Concesionario-2024!")
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: status=%d body=%s", i+1, rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatalf("rate-limit headers must be omitted without a client ip")
		}
	}

	sub, err := env.store.GetSubjectByEmail(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("GetSubjectByEmail: %v", err)
	}
	if sub.RegisteredIP != nil {
		t.Fatalf("registered ip must stay empty, got %q", *sub.RegisteredIP)
	}
}

func TestRegister_RateLimitedOnFourthAttempt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	const ip = "203.0.113.8"

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		rr := env.register(ip, email, "Concesionario-2024!")
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: status=%d", i+1, rr.Code)
		}
	}

	rr := env.register(ip, "d@example.com", "Concesionario-2024!")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "rate_limited" {
		t.Fatalf("code=%q", code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining=%q", got)
	}
	if got := rr.Header().Get("Retry-After"); got != "3600" {
		t.Fatalf("Retry-After=%q", got)
	}
	if _, err := env.store.GetSubjectByEmail(context.Background(), "d@example.com"); !identity.IsNotFound(err) {
		t.Fatalf("rate-limited registration must not create a subject, err=%v", err)
	}

	// Another address is unaffected.
	if rr := env.register("203.0.113.9", "e@example.com", "Concesionario-2024!"); rr.Code != http.StatusCreated {
		t.Fatalf("other ip: status=%d", rr.Code)
	}

	// Once the window has passed the address may register again.
	env.clock.Advance(time.Hour + time.Second)
	if rr := env.register(ip, "f@example.com", "Concesionario-2024!"); rr.Code != http.StatusCreated {
		t.Fatalf("after window: status=%d", rr.Code)
	}
	if env.rec.get(RegistrationRateLimited) != 1 {
		t.Fatalf("expected one rate-limited registration recorded")
	}
}

func TestRegister_BlacklistedIP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	const ip = "203.0.113.10"

	out := mustRegister(t, env, ip, "spam@example.com")
	if _, err := env.store.SetSubjectStatus(context.Background(), out.Subject.ID, identity.StatusSuspended, env.clock.Now()); err != nil {
		t.Fatalf("SetSubjectStatus: %v", err)
	}

	rr := env.register(ip, "spam2@example.com", "Concesionario-2024!")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "registration_blocked" {
		t.Fatalf("code=%q", code)
	}
}

func TestRegister_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"unknown field", `{"email":"a@example.com","name":"A","password":"Concesionario-2024!","role":"admin"}`, "invalid_json"},
		{"trailing data", `{"email":"a@example.com","name":"A","password":"Concesionario-2024!"} {}`, "invalid_json"},
		{"missing name", `{"email":"a@example.com","name":" ","password":"Concesionario-2024!"}`, "invalid_request"},
		{"bad email", `{"email":"not-an-email","name":"A","password":"Concesionario-2024!"}`, "invalid_request"},
		{"short password", `{"email":"a@example.com","name":"A","password":"short"}`, "password_too_short"},
		{"weak password", `{"email":"a@example.com","name":"A","password":"password"}`, "weak_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(tt.body))
			req.Header.Set("X-Real-Ip", "203.0.113.11")
			rr := env.do(req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.wantCode {
				t.Fatalf("code=%q want %q", code, tt.wantCode)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	mustRegister(t, env, "203.0.113.12", "dup@example.com")
	rr := env.register("203.0.113.13", "DUP@example.com", "Concesionario-2024!")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "email_taken" {
		t.Fatalf("code=%q", code)
	}
}

func TestRegister_NotificationFailureStillCreates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.notifier.fail = true

	out := mustRegister(t, env, "203.0.113.14", "nomail@example.com")
	if out.VerificationSent {
		t.Fatalf("verification_sent must be false when delivery fails")
	}
}

func TestVerify_Lifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	out := mustRegister(t, env, "203.0.113.15", "verify@example.com")
	token := env.notifier.lastToken(t)

	rr := env.verify(token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body verifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Verified {
		t.Fatalf("expected verified=true")
	}

	sub, err := env.store.GetSubjectByID(context.Background(), out.Subject.ID)
	if err != nil {
		t.Fatalf("GetSubjectByID: %v", err)
	}
	if sub.Status != identity.StatusActive || !sub.EmailVerified {
		t.Fatalf("expected active verified subject, got status=%s verified=%v", sub.Status, sub.EmailVerified)
	}
	if sub.VerifiedIP == nil || *sub.VerifiedIP != "198.51.100.20" {
		t.Fatalf("verified ip=%v", sub.VerifiedIP)
	}

	rr = env.verify(token)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "token_already_used" {
		t.Fatalf("replay: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestVerify_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := env.verify("")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "missing_token" {
		t.Fatalf("missing: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.verify("does-not-exist")
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "token_not_found" {
		t.Fatalf("unknown: status=%d body=%s", rr.Code, rr.Body.String())
	}

	mustRegister(t, env, "203.0.113.16", "late@example.com")
	token := env.notifier.lastToken(t)
	env.clock.Advance(25 * time.Hour)

	rr = env.verify(token)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "token_expired" {
		t.Fatalf("expired: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

type brokenLedger struct{}

func (brokenLedger) Issue(context.Context, identity.Subject) (string, identity.VerificationToken, error) {
	return "", identity.VerificationToken{}, errors.New("db down")
}

func (brokenLedger) Consume(context.Context, string, string) (verification.Result, error) {
	return 0, errors.New("db down")
}

func TestVerify_StoreFailureIsGeneric500(t *testing.T) {
	t.Parallel()
	env := newTestEnvWithLedger(t, brokenLedger{})

	rr := env.verify("anything")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("db down")) {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}

// failingIssueLedger fails the first n Issue calls and then delegates.
type failingIssueLedger struct {
	Ledger
	mu sync.Mutex
	n  int
}

func (l *failingIssueLedger) Issue(ctx context.Context, sub identity.Subject) (string, identity.VerificationToken, error) {
	l.mu.Lock()
	fail := l.n > 0
	if fail {
		l.n--
	}
	l.mu.Unlock()
	if fail {
		return "", identity.VerificationToken{}, errors.New("db down")
	}
	return l.Ledger.Issue(ctx, sub)
}

func TestRegister_TokenIssueFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnvWithLedger(t, brokenLedger{})

	rr := env.register("203.0.113.17", "issue@example.com", "Concesionario-2024!")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if env.rec.get(RegistrationError) != 1 {
		t.Fatalf("expected registration error recorded")
	}

	ctx := context.Background()
	if _, err := env.store.GetSubjectByEmail(ctx, "issue@example.com"); !identity.IsNotFound(err) {
		t.Fatalf("expected subject rolled back, got %v", err)
	}
	if n, err := env.store.CountSubjectsByIPSince(ctx, "203.0.113.17", env.clock.Now().Add(-time.Hour)); err != nil || n != 0 {
		t.Fatalf("rolled back subject still counts toward the limit: n=%d err=%v", n, err)
	}

	// Retrying is a fresh attempt, not a conflict.
	rr = env.register("203.0.113.17", "issue@example.com", "Concesionario-2024!")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("retry status=%d body=%s", rr.Code, rr.Body.String())
	}
	if env.rec.get(RegistrationConflict) != 0 {
		t.Fatalf("retry must not be treated as a duplicate")
	}
}

func TestRegister_RetryAfterTokenIssueFailure(t *testing.T) {
	t.Parallel()
	ledger := &failingIssueLedger{n: 1}
	env := newTestEnvWithLedger(t, ledger)
	inner := verification.NewLedger(env.store, env.notifier, verification.DefaultConfig(),
		verification.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		verification.WithClock(env.clock.Now))
	t.Cleanup(inner.Wait)
	ledger.Ledger = inner

	if rr := env.register("203.0.113.18", "retry@example.com", "Concesionario-2024!"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("first attempt status=%d", rr.Code)
	}
	rr := env.register("203.0.113.18", "retry@example.com", "Concesionario-2024!")
	if rr.Code != http.StatusCreated {
		t.Fatalf("retry status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := env.verify(env.notifier.lastToken(t)); rr.Code != http.StatusOK {
		t.Fatalf("verify status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var anon sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &anon); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if anon.Authenticated || anon.Session != nil {
		t.Fatalf("expected anonymous, got %+v", anon)
	}

	// A session attached by the gateway wins over the provider.
	s := &session.Session{SubjectID: "sub-1", Role: "admin", ExpiresAt: env.clock.Now().Add(time.Hour)}
	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req = req.WithContext(session.WithSession(req.Context(), s))
	rr = env.do(req)

	var got sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Authenticated || got.Session == nil || got.Session.SubjectID != "sub-1" || got.Session.Role != "admin" {
		t.Fatalf("unexpected session response %+v", got)
	}
}

func TestMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if rr := env.do(req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status=%d", rr.Code)
	}

	out := mustRegister(t, env, "203.0.113.18", "me@example.com")
	env.sess = &session.Session{SubjectID: out.Subject.ID, Role: "emprendedores"}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var me meResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.Subject.Email != "me@example.com" {
		t.Fatalf("email=%q", me.Subject.Email)
	}

	if _, err := env.store.SetSubjectStatus(context.Background(), out.Subject.ID, identity.StatusSuspended, env.clock.Now()); err != nil {
		t.Fatalf("SetSubjectStatus: %v", err)
	}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "account_suspended" {
		t.Fatalf("suspended: status=%d body=%s", rr.Code, rr.Body.String())
	}

	env.sess = &session.Session{SubjectID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Role: "emprendedores"}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("deleted subject: status=%d", rr.Code)
	}
}

func TestMe_SessionLeeway(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	out := mustRegister(t, env, "203.0.113.19", "skew@example.com")
	expired := env.clock.Now().Add(-10 * time.Second)

	env.sess = &session.Session{SubjectID: out.Subject.ID, Role: "emprendedores", ExpiresAt: expired, Leeway: 30 * time.Second}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil)); rr.Code != http.StatusOK {
		t.Fatalf("within leeway: status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"authenticated":true`)) {
		t.Fatalf("session within leeway: %s", rr.Body.String())
	}

	env.sess = &session.Session{SubjectID: out.Subject.ID, Role: "emprendedores", ExpiresAt: expired}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no leeway: status=%d", rr.Code)
	}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"authenticated":false`)) {
		t.Fatalf("session without leeway: %s", rr.Body.String())
	}
}

func TestSuspendAndReinstate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	admin := mustRegister(t, env, "203.0.113.19", "admin@example.com")
	target := mustRegister(t, env, "203.0.113.20", "target@example.com")
	env.sess = &session.Session{SubjectID: admin.Subject.ID, Role: "admin"}

	post := func(path string) *httptest.ResponseRecorder {
		return env.do(httptest.NewRequest(http.MethodPost, path, nil))
	}

	rr := post("/api/users/" + target.Subject.ID + "/suspend")
	if rr.Code != http.StatusOK {
		t.Fatalf("suspend: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp subjectStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Subject.Status != string(identity.StatusSuspended) {
		t.Fatalf("status=%q", resp.Subject.Status)
	}

	// Suspension feeds the registration blacklist.
	if rr := env.register("203.0.113.20", "again@example.com", "Concesionario-2024!"); rr.Code != http.StatusForbidden {
		t.Fatalf("blacklist after suspend: status=%d", rr.Code)
	}

	rr = post("/api/users/" + target.Subject.ID + "/reinstate")
	if rr.Code != http.StatusOK {
		t.Fatalf("reinstate: status=%d body=%s", rr.Code, rr.Body.String())
	}
	resp = subjectStatusResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Subject.Status != string(identity.StatusPending) {
		t.Fatalf("unverified subject must return to pending, got %q", resp.Subject.Status)
	}

	if rr := post("/api/users/" + admin.Subject.ID + "/suspend"); rr.Code != http.StatusBadRequest {
		t.Fatalf("self-suspend: status=%d", rr.Code)
	}
	if rr := post("/api/users/01HZZZZZZZZZZZZZZZZZZZZZZZ/suspend"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing subject: status=%d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := retryAfterSeconds(now.Add(1500*time.Millisecond), now); got != 2 {
		t.Fatalf("rounding up: got %d", got)
	}
	if got := retryAfterSeconds(now.Add(-time.Minute), now); got != 1 {
		t.Fatalf("past reset: got %d", got)
	}
}

func TestVerificationLink(t *testing.T) {
	t.Parallel()

	got := verificationLink("https://autos.example.com/verificar?lang=es", "abc_-1")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Get("token") != "abc_-1" || u.Query().Get("lang") != "es" {
		t.Fatalf("unexpected link %q", got)
	}
}
