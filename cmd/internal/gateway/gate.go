package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"lotgate/cmd/internal/auth/session"
	"lotgate/cmd/internal/clientip"
)

// DefaultLoginPath is where unauthenticated page navigations are sent.
const DefaultLoginPath = "/login"

// Observer is notified of every gate decision.
type Observer func(c Classification, d Decision)

// Gate is HTTP middleware enforcing a Classifier against a session.Provider.
type Gate struct {
	classifier *Classifier
	sessions   session.Provider
	log        *slog.Logger
	loginPath  string
	observe    Observer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger used for denials and provider failures.
func WithLogger(log *slog.Logger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(p string) GateOption {
	return func(g *Gate) {
		if p = strings.TrimSpace(p); p != "" {
			g.loginPath = p
		}
	}
}

// WithObserver registers a decision callback (metrics).
func WithObserver(fn Observer) GateOption {
	return func(g *Gate) { g.observe = fn }
}

// NewGate constructs a Gate. A nil provider treats every request as anonymous.
func NewGate(c *Classifier, sessions session.Provider, opts ...GateOption) *Gate {
	if c == nil {
		c = NewClassifier(nil)
	}
	if sessions == nil {
		sessions = session.ProviderFunc(func(*http.Request) (*session.Session, error) { return nil, nil })
	}
	g := &Gate{
		classifier: c,
		sessions:   sessions,
		log:        slog.Default(),
		loginPath:  DefaultLoginPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Wrap returns next guarded by the gate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := g.classifier.ClassifyRequest(r.URL.Path, r.URL.RawQuery, r.Method)

		// Public routes never touch the session provider.
		if c.Visibility.Kind == KindPublic || c.Visibility.Kind == KindPublicReadOnly {
			g.record(c, Decision{Outcome: Allow})
			next.ServeHTTP(w, r)
			return
		}

		s, err := g.sessions.Session(r)
		if err != nil {
			g.log.Error("gateway.session.fail",
				"err", err,
				"path", c.Path,
				"method", c.Method,
				"ip", clientip.FromRequest(r),
			)
			g.record(c, Decision{Outcome: Deny, Status: http.StatusServiceUnavailable, Reason: "session_unavailable"})
			writeGateError(w, c, http.StatusServiceUnavailable, "session_unavailable", "authentication temporarily unavailable")
			return
		}

		d := Authorize(c, s)
		g.record(c, d)

		switch d.Outcome {
		case Allow:
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
		case RedirectToLogin:
			http.Redirect(w, r, g.loginURL(d.Target), http.StatusFound)
		default:
			attrs := []any{
				"path", c.Path,
				"method", c.Method,
				"visibility", c.Visibility.String(),
				"reason", d.Reason,
				"ip", clientip.FromRequest(r),
			}
			if s != nil {
				attrs = append(attrs, "subject_id", s.SubjectID, "role", s.Role)
			}
			g.log.Info("gateway.deny", attrs...)
			msg := "authentication required"
			if d.Status == http.StatusForbidden {
				msg = "insufficient role"
			}
			writeGateError(w, c, d.Status, d.Reason, msg)
		}
	})
}

func (g *Gate) loginURL(target string) string {
	if target == "" {
		return g.loginPath
	}
	return g.loginPath + "?next=" + url.QueryEscape(target)
}

func (g *Gate) record(c Classification, d Decision) {
	if g.observe != nil {
		g.observe(c, d)
	}
}

type gateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeGateError answers data calls with the JSON error envelope and pages
// with plain text.
func writeGateError(w http.ResponseWriter, c Classification, status int, code, msg string) {
	if !c.API {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error gateError `json:"error"`
	}{Error: gateError{Code: code, Message: msg}})
}
