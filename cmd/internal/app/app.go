// Package app wires the lotgate runtime: config, logging, storage, the route
// gate and the auth HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lotgate/cmd/identity"
	"lotgate/cmd/internal/abuse"
	"lotgate/cmd/internal/auth/api"
	"lotgate/cmd/internal/auth/session"
	"lotgate/cmd/internal/gateway"
	"lotgate/cmd/internal/metrics"
	"lotgate/cmd/internal/notify"
	"lotgate/cmd/internal/verification"
	"lotgate/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the lotgate server runtime.
type App struct {
	cfg Config
	log Logger

	store     identity.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *metrics.Metrics
	gate    *gateway.Gate
	auth    *api.Handler
	ledger  *verification.Ledger
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, dbPool, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, log, st)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}
	a.dbPool = dbPool
	a.dbEnabled = dbPool != nil
	return a, nil
}

// newApp wires every component on top of st.
func newApp(cfg Config, log Logger, st identity.Store) (*App, error) {
	m := metrics.New()

	policy, err := loadPolicy(cfg, log)
	if err != nil {
		return nil, err
	}

	sessions, err := newSessionProvider(log)
	if err != nil {
		return nil, err
	}

	notifier := newNotifier(cfg, log)

	guard := abuse.NewGuard(st, abuse.Config{Threshold: cfg.AbuseThreshold, Window: cfg.AbuseWindow},
		abuse.WithLogger(log),
		abuse.WithRecorder(m),
	)

	ledger := verification.NewLedger(st, notifier, verification.Config{
		TTL:            cfg.VerificationTTL,
		TokenBytes:     32,
		WelcomeTimeout: cfg.WelcomeTimeout,
	},
		verification.WithLogger(log),
		verification.WithRecorder(m),
	)

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}

	authHandler, err := api.NewHandler(api.LoadConfigFromEnv(), st, password.NewHasher(pwCfg), guard, ledger,
		api.WithLogger(log),
		api.WithNotifier(notifier),
		api.WithSessionProvider(sessions),
		api.WithRecorder(m),
	)
	if err != nil {
		return nil, err
	}

	gate := gateway.NewGate(gateway.NewClassifier(policy), sessions,
		gateway.WithLogger(log),
		gateway.WithLoginPath(cfg.LoginPath),
		gateway.WithObserver(func(c gateway.Classification, d gateway.Decision) {
			m.GateDecision(c.Visibility.Kind.String(), d.Outcome.String())
		}),
	)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		metrics: m,
		gate:    gate,
		auth:    authHandler,
		ledger:  ledger,
	}, nil
}

// Handler returns the full middleware chain over all routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:       a.log,
		cfg:       a.cfg,
		dbPool:    a.dbPool,
		dbEnabled: a.dbEnabled,
		metrics:   a.metrics.Handler(),
		gate:      a.gate,
		auth:      a.auth,
	})
	return WithRequestID(WithRequestLogging(WithSecurityHeaders(mux), a.log, a.metrics))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

// close drains welcome notifications and then releases the pool.
func (a *App) close() {
	a.ledger.Wait()
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory dev store.
// The returned pool is nil in memory mode; the app owns its lifecycle.
func newStore(ctx context.Context, cfg Config, log Logger) (identity.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil, nil
	}

	if cfg.DBMigrate {
		if err := identity.MigrateSchema(ctx, cfg.DatabaseURL, cfg.DBSchema); err != nil {
			return nil, nil, err
		}
		log.Info("db.migrate.done", "schema", cfg.DBSchema)
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, pool, nil
}

func loadPolicy(cfg Config, log Logger) (*gateway.Policy, error) {
	if cfg.RoutePolicyFile == "" {
		return gateway.DefaultPolicy(), nil
	}
	p, err := gateway.LoadPolicyFile(cfg.RoutePolicyFile)
	if err != nil {
		return nil, fmt.Errorf("route policy: %w", err)
	}
	log.Info("gateway.policy.loaded", "file", cfg.RoutePolicyFile, "rules", len(p.Rules()))
	return p, nil
}

// newSessionProvider returns nil (every request anonymous) when no secret is configured.
func newSessionProvider(log Logger) (session.Provider, error) {
	if EnvString("LOTGATE_SESSION_SECRET", "") == "" {
		log.Warn("session.disabled", "reason", "LOTGATE_SESSION_SECRET not set")
		return nil, nil
	}
	cfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	p, err := session.NewJWTProvider(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newNotifier(cfg Config, log Logger) notify.Service {
	switch strings.ToLower(cfg.NotifyMode) {
	case "noop", "off":
		return notify.NoopService{}
	default:
		return notify.NewLogService(log, notify.WithLinkLogging(cfg.NotifyLogLinks))
	}
}
