package session

import (
	"context"
	"net/http"
	"time"
)

// Session is the authenticated identity attached to a request.
type Session struct {
	SubjectID string
	Role      string
	Email     string
	ExpiresAt time.Time

	// Leeway is the clock skew the verifying provider allowed on ExpiresAt.
	Leeway time.Duration
}

// Expired reports whether the session is past ExpiresAt plus Leeway, the
// same rule the provider applied when it accepted the token.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt.Add(s.Leeway))
}

// Provider resolves the session for a request.
// It returns (nil, nil) for anonymous requests; a non-nil error means the
// provider could not answer at all.
type Provider interface {
	Session(r *http.Request) (*Session, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(r *http.Request) (*Session, error)

// Session implements Provider.
func (f ProviderFunc) Session(r *http.Request) (*Session, error) { return f(r) }

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
