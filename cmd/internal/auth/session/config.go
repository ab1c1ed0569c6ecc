package session

import (
	"os"
	"strings"
	"time"
)

// MinSecretLen is the minimum HS256 secret length in bytes.
const MinSecretLen = 32

// Config defines runtime configuration for session verification.
type Config struct {
	// Secret is the shared HS256 key used by the identity provider.
	Secret []byte

	// Issuer, when set, must match the "iss" claim.
	Issuer string

	// Audience, when set, must appear in the "aud" claim.
	Audience string

	// CookieName is consulted when no Authorization header is present.
	CookieName string

	// Leeway is the allowed clock skew when checking exp/nbf/iat.
	Leeway time.Duration
}

// DefaultConfig returns defaults without a secret.
func DefaultConfig() Config {
	return Config{
		Issuer:     "lotgate",
		CookieName: "lotgate_session",
		Leeway:     30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - LOTGATE_SESSION_SECRET (at least 32 bytes)
//
// Optional:
//   - LOTGATE_SESSION_ISSUER (set to "-" to disable the issuer check)
//   - LOTGATE_SESSION_AUDIENCE
//   - LOTGATE_SESSION_COOKIE
//   - LOTGATE_SESSION_LEEWAY (Go duration, 0..5m)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("LOTGATE_SESSION_ISSUER")); v != "" {
		if v == "-" {
			v = ""
		}
		cfg.Issuer = v
	}
	cfg.Audience = strings.TrimSpace(os.Getenv("LOTGATE_SESSION_AUDIENCE"))

	if v := strings.TrimSpace(os.Getenv("LOTGATE_SESSION_COOKIE")); v != "" {
		cfg.CookieName = v
	}

	if v := strings.TrimSpace(os.Getenv("LOTGATE_SESSION_LEEWAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, ErrConfig
		}
		cfg.Leeway = d
	}

	secret := os.Getenv("LOTGATE_SESSION_SECRET")
	if len(secret) < MinSecretLen {
		return Config{}, ErrConfig
	}
	cfg.Secret = []byte(secret)

	return cfg, nil
}
