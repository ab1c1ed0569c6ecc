package abuse

import (
	"context"
	"log/slog"
	"time"

	"lotgate/cmd/internal/clientip"
)

// Store is the slice of identity.Store the guard reads.
type Store interface {
	CountSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	HasSuspendedSubjectWithIP(ctx context.Context, ip string) (bool, error)
}

// Recorder receives guard outcomes (metrics).
type Recorder interface {
	AbuseDecision(check, result string)
}

const (
	CheckBlacklist = "blacklist"
	CheckRateLimit = "rate_limit"

	ResultAllowed    = "allowed"
	ResultBlocked    = "blocked"
	ResultNoDecision = "no_decision"
	ResultStoreError = "store_error"
)

// Config bounds registrations per address.
type Config struct {
	// Threshold is the number of registrations allowed per Window.
	Threshold int
	Window    time.Duration
}

// DefaultConfig allows three registrations per address per hour.
func DefaultConfig() Config {
	return Config{Threshold: 3, Window: time.Hour}
}

// RateLimit is the verdict of CheckRateLimit.
//
// ResetAt is now+Window, not the moment the oldest counted registration
// leaves the window; clients may be told to wait longer than necessary.
// Skipped is set when no decision was made (unknown address or store failure).
type RateLimit struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
	Skipped   bool
}

// Guard runs the blacklist and rate-limit checks.
type Guard struct {
	store Store
	cfg   Config
	log   *slog.Logger
	rec   Recorder
	now   func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(g *Guard) { g.rec = rec }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard constructs a Guard. Non-positive config values fall back to defaults.
func NewGuard(store Store, cfg Config, opts ...Option) *Guard {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	g := &Guard{
		store: store,
		cfg:   cfg,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Config returns the effective configuration.
func (g *Guard) Config() Config { return g.cfg }

// LookupBlacklist asks the store whether ip belongs to a suspended subject.
func (g *Guard) LookupBlacklist(ctx context.Context, ip string) Lookup[bool] {
	return lookupOf(g.store.HasSuspendedSubjectWithIP(ctx, ip))
}

// IsBlacklisted reports whether ip registered a now-suspended subject.
// The unknown sentinel and store failures both answer false.
func (g *Guard) IsBlacklisted(ctx context.Context, ip string) bool {
	if clientip.IsUnknown(ip) {
		g.log.Warn("abuse.blacklist.unknown_ip")
		g.record(CheckBlacklist, ResultNoDecision)
		return false
	}

	res := g.LookupBlacklist(ctx, ip)
	if res.Failed {
		g.log.Error("abuse.blacklist.store_failed", "ip", ip, "err", res.Err)
		g.record(CheckBlacklist, ResultStoreError)
		return res.Or(false)
	}
	if res.Value {
		g.log.Info("abuse.blacklist.hit", "ip", ip)
		g.record(CheckBlacklist, ResultBlocked)
		return true
	}
	g.record(CheckBlacklist, ResultAllowed)
	return false
}

// LookupRateLimit counts registrations from ip within the window ending now.
func (g *Guard) LookupRateLimit(ctx context.Context, ip string, now time.Time) Lookup[RateLimit] {
	n, err := g.store.CountSubjectsByIPSince(ctx, ip, now.Add(-g.cfg.Window))
	if err != nil {
		return lookupOf(RateLimit{}, err)
	}
	return lookupOf(g.decide(n, now), nil)
}

// CheckRateLimit reports whether ip may register again.
// The unknown sentinel and store failures are allowed with Skipped set.
func (g *Guard) CheckRateLimit(ctx context.Context, ip string) RateLimit {
	now := g.now()
	open := RateLimit{
		Allowed:   true,
		Limit:     g.cfg.Threshold,
		Remaining: g.cfg.Threshold,
		ResetAt:   now.Add(g.cfg.Window),
		Skipped:   true,
	}

	if clientip.IsUnknown(ip) {
		g.log.Warn("abuse.rate_limit.unknown_ip")
		g.record(CheckRateLimit, ResultNoDecision)
		return open
	}

	res := g.LookupRateLimit(ctx, ip, now)
	if res.Failed {
		g.log.Error("abuse.rate_limit.store_failed", "ip", ip, "err", res.Err)
		g.record(CheckRateLimit, ResultStoreError)
		return res.Or(open)
	}

	rl := res.Value
	if rl.Allowed {
		g.record(CheckRateLimit, ResultAllowed)
	} else {
		g.log.Info("abuse.rate_limit.exceeded", "ip", ip, "count", rl.Count, "limit", rl.Limit)
		g.record(CheckRateLimit, ResultBlocked)
	}
	return rl
}

func (g *Guard) decide(count int, now time.Time) RateLimit {
	remaining := g.cfg.Threshold - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimit{
		Allowed:   count < g.cfg.Threshold,
		Count:     count,
		Limit:     g.cfg.Threshold,
		Remaining: remaining,
		ResetAt:   now.Add(g.cfg.Window),
	}
}

func (g *Guard) record(check, result string) {
	if g.rec != nil {
		g.rec.AbuseDecision(check, result)
	}
}
