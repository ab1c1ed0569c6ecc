package api

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior.
type Config struct {
	MaxBodyBytes int64

	// DefaultRole is assigned to self-registered subjects.
	DefaultRole string

	// VerifyURL is the public verification endpoint; the token is appended as ?token=.
	VerifyURL string

	NameMaxLen  int
	EmailMaxLen int
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes: envInt64("LOTGATE_AUTH_MAX_BODY_BYTES", 64<<10),
		DefaultRole:  envString("LOTGATE_DEFAULT_ROLE", "emprendedores"),
		VerifyURL:    envString("LOTGATE_VERIFY_URL", "http://localhost:8080/api/auth/verify"),
		NameMaxLen:   envInt("LOTGATE_AUTH_NAME_MAX_LEN", 120),
		EmailMaxLen:  envInt("LOTGATE_AUTH_EMAIL_MAX_LEN", 254),
	}

	if cfg.MaxBodyBytes > 1<<20 {
		cfg.MaxBodyBytes = 1 << 20
	}
	cfg.DefaultRole = strings.ToLower(cfg.DefaultRole)
	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
