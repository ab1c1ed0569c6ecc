// Package notify is the outbound notification seam. Delivery itself (SMTP,
// transactional mail providers) lives outside lotgate; the implementations
// here log intent or do nothing.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
)

// ErrInvalidRecipient is returned for empty or malformed addresses.
var ErrInvalidRecipient = errors.New("notify: invalid recipient")

// Result reports a single delivery attempt.
type Result struct {
	Success bool
	Err     error
}

func ok() Result { return Result{Success: true} }
func failed(err error) Result { return Result{Err: err} }

// Service sends account notifications.
type Service interface {
	SendWelcome(ctx context.Context, email, name string) Result
	SendVerification(ctx context.Context, email, name, link string) Result
}

// LogService records each notification as a structured log line.
type LogService struct {
	log      *slog.Logger
	logLinks bool
}

// LogOption configures a LogService.
type LogOption func(*LogService)

// WithLinkLogging makes SendVerification log the link at debug level so a
// developer can complete registration without a mail server. Never enable it
// in production: the link carries a live token.
func WithLinkLogging(enabled bool) LogOption {
	return func(s *LogService) { s.logLinks = enabled }
}

// NewLogService returns a LogService writing to log.
func NewLogService(log *slog.Logger, opts ...LogOption) *LogService {
	if log == nil {
		log = slog.Default()
	}
	s := &LogService{log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SendWelcome implements Service.
func (s *LogService) SendWelcome(ctx context.Context, email, name string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	addr, err := recipient(email)
	if err != nil {
		return failed(err)
	}
	s.log.InfoContext(ctx, "notify.welcome.sent", "to", addr, "name", strings.TrimSpace(name))
	return ok()
}

// SendVerification implements Service. The link is only logged when
// WithLinkLogging is on.
func (s *LogService) SendVerification(ctx context.Context, email, name, link string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	addr, err := recipient(email)
	if err != nil {
		return failed(err)
	}
	if strings.TrimSpace(link) == "" {
		return failed(errors.New("notify: empty verification link"))
	}
	s.log.InfoContext(ctx, "notify.verification.sent", "to", addr, "name", strings.TrimSpace(name))
	if s.logLinks {
		s.log.DebugContext(ctx, "notify.verification.link", "to", addr, "link", link)
	}
	return ok()
}

// NoopService accepts every notification and sends nothing.
type NoopService struct{}

// SendWelcome implements Service.
func (NoopService) SendWelcome(context.Context, string, string) Result { return ok() }

// SendVerification implements Service.
func (NoopService) SendVerification(context.Context, string, string, string) Result { return ok() }

func recipient(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidRecipient
	}
	a, err := mail.ParseAddress(email)
	if err != nil {
		return "", ErrInvalidRecipient
	}
	return a.Address, nil
}
