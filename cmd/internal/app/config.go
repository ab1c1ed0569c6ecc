package app

import (
	"time"

	"lotgate/cmd/identity"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool
	// DBSchema holds the identity tables; migrations create it when missing.
	DBSchema string

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, LOTGATE_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so verification
	// token hashes are keyed.
	RequireTokenHMAC bool

	// RoutePolicyFile replaces the built-in route policy when set.
	RoutePolicyFile string
	LoginPath       string

	AbuseThreshold int
	AbuseWindow    time.Duration

	VerificationTTL time.Duration
	WelcomeTimeout  time.Duration

	// NotifyMode is "log" (default) or "noop".
	NotifyMode string
	// NotifyLogLinks makes the log notifier print verification links at debug
	// level. Local development only: the link is a bearer credential.
	NotifyLogLinks bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("LOTGATE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LOTGATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("LOTGATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LOTGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOTGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LOTGATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LOTGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LOTGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("LOTGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("LOTGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LOTGATE_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("LOTGATE_DB_MIGRATE", false),
		DBSchema:    EnvString("LOTGATE_DB_SCHEMA", identity.DefaultSchema),

		ReadinessRequireDB: EnvBool("LOTGATE_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("LOTGATE_REQUIRE_TOKEN_HMAC", false),

		RoutePolicyFile: EnvString("LOTGATE_ROUTE_POLICY_FILE", ""),
		LoginPath:       EnvString("LOTGATE_LOGIN_PATH", "/login"),

		AbuseThreshold: EnvInt("LOTGATE_ABUSE_THRESHOLD", 3),
		AbuseWindow:    EnvDuration("LOTGATE_ABUSE_WINDOW", time.Hour),

		VerificationTTL: EnvDuration("LOTGATE_VERIFICATION_TTL", 24*time.Hour),
		WelcomeTimeout:  EnvDuration("LOTGATE_WELCOME_TIMEOUT", 10*time.Second),

		NotifyMode:     EnvString("LOTGATE_NOTIFY_MODE", "log"),
		NotifyLogLinks: EnvBool("LOTGATE_NOTIFY_LOG_LINKS", false),
	}
}
