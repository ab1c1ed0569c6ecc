// Package verification issues and consumes one-time email-verification tokens.
//
// The plain token goes to the subject once, inside the verification link; only
// its hash is stored. Consumption is a single conditional write in the store,
// so concurrent attempts on the same token produce exactly one Success.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lotgate/cmd/identity"
	"lotgate/cmd/internal/clientip"
	"lotgate/cmd/internal/notify"
)

// Result is the outcome of a consume attempt.
type Result int

const (
	Success Result = iota
	NotFound
	AlreadyUsed
	Expired
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case AlreadyUsed:
		return "already_used"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Store is the slice of identity.Store the ledger needs.
type Store interface {
	GetSubjectByID(ctx context.Context, id string) (identity.Subject, error)
	CreateVerificationToken(ctx context.Context, t identity.VerificationToken) error
	GetVerificationToken(ctx context.Context, tokenHash string) (identity.VerificationToken, error)
	ConsumeVerificationToken(ctx context.Context, in identity.ConsumeTokenInput) (identity.VerificationToken, error)
}

// Recorder receives ledger outcomes (metrics).
type Recorder interface {
	VerificationResult(result string)
	Notification(kind string, ok bool)
}

// Config controls token issuance.
type Config struct {
	TTL        time.Duration
	TokenBytes int

	// WelcomeTimeout bounds the detached welcome notification.
	WelcomeTimeout time.Duration
}

// DefaultConfig issues 32-byte tokens valid for 24 hours.
func DefaultConfig() Config {
	return Config{
		TTL:            24 * time.Hour,
		TokenBytes:     32,
		WelcomeTimeout: 10 * time.Second,
	}
}

// Ledger issues and consumes verification tokens.
type Ledger struct {
	store  Store
	notify notify.Service
	cfg    Config
	log    *slog.Logger
	rec    Recorder
	now    func() time.Time

	wg sync.WaitGroup
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(l *Ledger) { l.rec = rec }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger constructs a Ledger. A nil notifier disables welcome messages.
func NewLedger(store Store, notifier notify.Service, cfg Config, opts ...Option) *Ledger {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.TokenBytes < 16 {
		cfg.TokenBytes = def.TokenBytes
	}
	if cfg.WelcomeTimeout <= 0 {
		cfg.WelcomeTimeout = def.WelcomeTimeout
	}
	if notifier == nil {
		notifier = notify.NoopService{}
	}
	l := &Ledger{
		store:  store,
		notify: notifier,
		cfg:    cfg,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Issue creates a token for subject and returns its plain value.
func (l *Ledger) Issue(ctx context.Context, subject identity.Subject) (string, identity.VerificationToken, error) {
	plain, err := identity.NewOpaqueToken(l.cfg.TokenBytes)
	if err != nil {
		return "", identity.VerificationToken{}, err
	}
	now := l.now()
	t := identity.VerificationToken{
		TokenHash: identity.HashVerificationToken(plain),
		SubjectID: subject.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(l.cfg.TTL),
	}
	if err := l.store.CreateVerificationToken(ctx, t); err != nil {
		return "", identity.VerificationToken{}, err
	}
	return plain, t, nil
}

// Consume redeems a plain token presented from ip.
// Store failures are returned as errors and never reported as a result.
func (l *Ledger) Consume(ctx context.Context, plain, ip string) (Result, error) {
	res, err := l.consume(ctx, plain, ip)
	if err != nil {
		l.log.Error("verification.consume.store_failed", "ip", ip, "err", err)
		l.record("store_error")
		return 0, err
	}
	l.record(res.String())
	return res, nil
}

func (l *Ledger) consume(ctx context.Context, plain, ip string) (Result, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return NotFound, nil
	}
	hash := identity.HashVerificationToken(plain)
	now := l.now()

	t, err := l.store.GetVerificationToken(ctx, hash)
	if err != nil {
		if identity.IsNotFound(err) {
			return NotFound, nil
		}
		return 0, err
	}
	if r, done := classify(t, now); done {
		return r, nil
	}

	var ipPtr *string
	if !clientip.IsUnknown(ip) {
		ipPtr = &ip
	}
	used, err := l.store.ConsumeVerificationToken(ctx, identity.ConsumeTokenInput{
		TokenHash: hash,
		IP:        ipPtr,
		Now:       now,
	})
	switch {
	case err == nil:
	case identity.IsNotActive(err):
		// Lost a race: report what the winner left behind.
		t, err = l.store.GetVerificationToken(ctx, hash)
		if err != nil {
			if identity.IsNotFound(err) {
				return NotFound, nil
			}
			return 0, err
		}
		if r, done := classify(t, now); done {
			return r, nil
		}
		return AlreadyUsed, nil
	case identity.IsNotFound(err):
		return NotFound, nil
	default:
		return 0, err
	}

	l.log.Info("verification.consume.success", "subject_id", used.SubjectID, "ip", ip)
	l.sendWelcome(used.SubjectID)
	return Success, nil
}

// classify reports a terminal result for a token that cannot be consumed.
func classify(t identity.VerificationToken, now time.Time) (Result, bool) {
	if t.Used() {
		return AlreadyUsed, true
	}
	if t.Expired(now) {
		return Expired, true
	}
	return 0, false
}

// sendWelcome notifies the subject in the background. Failure is logged and
// never affects the verification.
func (l *Ledger) sendWelcome(subjectID string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WelcomeTimeout)
		defer cancel()

		sub, err := l.store.GetSubjectByID(ctx, subjectID)
		if err != nil {
			l.log.Error("verification.welcome.lookup_failed", "subject_id", subjectID, "err", err)
			l.recordNotification(false)
			return
		}
		res := l.notify.SendWelcome(ctx, sub.Email, sub.Name)
		if !res.Success {
			err := res.Err
			if err == nil {
				err = errors.New("delivery failed")
			}
			l.log.Warn("verification.welcome.failed", "subject_id", subjectID, "err", err)
			l.recordNotification(false)
			return
		}
		l.recordNotification(true)
	}()
}

// Wait blocks until in-flight welcome notifications finish.
func (l *Ledger) Wait() { l.wg.Wait() }

func (l *Ledger) record(result string) {
	if l.rec != nil {
		l.rec.VerificationResult(result)
	}
}

func (l *Ledger) recordNotification(ok bool) {
	if l.rec != nil {
		l.rec.Notification("welcome", ok)
	}
}
