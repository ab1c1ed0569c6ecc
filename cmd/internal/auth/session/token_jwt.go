package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// JWTProvider verifies HS256 session tokens.
type JWTProvider struct {
	cfg Config
	now func() time.Time
}

// NewJWTProvider builds a Provider backed by HS256 verification.
func NewJWTProvider(cfg Config) (*JWTProvider, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, ErrConfig
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultConfig().CookieName
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	return &JWTProvider{cfg: cfg, now: time.Now}, nil
}

// Session implements Provider. Bad tokens are treated as anonymous.
func (p *JWTProvider) Session(r *http.Request) (*Session, error) {
	raw := p.tokenFromRequest(r)
	if raw == "" {
		return nil, nil
	}
	s, err := p.Verify(raw, p.now())
	if err != nil {
		return nil, nil
	}
	return s, nil
}

// Verify parses and validates a token at time now.
func (p *JWTProvider) Verify(raw string, now time.Time) (*Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(p.cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.Audience))
	}

	claims := &Claims{}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.cfg.Secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return nil, ErrInvalidToken
	}

	s := &Session{
		SubjectID: sub,
		Role:      strings.ToLower(strings.TrimSpace(claims.Role)),
		Email:     strings.TrimSpace(claims.Email),
		Leeway:    p.cfg.Leeway,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// tokenFromRequest prefers the Authorization header over the cookie.
func (p *JWTProvider) tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if c, err := r.Cookie(p.cfg.CookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
