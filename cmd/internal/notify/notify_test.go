package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogService(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewLogService(slog.New(slog.NewJSONHandler(&buf, nil)))

	if r := s.SendWelcome(context.Background(), " Ana <ana@example.com> ", "Ana"); !r.Success || r.Err != nil {
		t.Fatalf("SendWelcome: %+v", r)
	}
	if !strings.Contains(buf.String(), `"msg":"notify.welcome.sent"`) || !strings.Contains(buf.String(), `"to":"ana@example.com"`) {
		t.Fatalf("unexpected log: %s", buf.String())
	}

	buf.Reset()
	link := "https://lot.example.com/verify?token=SECRET"
	if r := s.SendVerification(context.Background(), "ana@example.com", "Ana", link); !r.Success {
		t.Fatalf("SendVerification: %+v", r)
	}
	if strings.Contains(buf.String(), "SECRET") {
		t.Fatalf("verification token leaked into logs: %s", buf.String())
	}
}

func TestLogService_LinkLogging(t *testing.T) {
	t.Parallel()

	link := "https://lot.example.com/verify?token=DEVTOKEN"
	debug := &slog.HandlerOptions{Level: slog.LevelDebug}

	var buf bytes.Buffer
	s := NewLogService(slog.New(slog.NewJSONHandler(&buf, debug)), WithLinkLogging(true))
	if r := s.SendVerification(context.Background(), "ana@example.com", "Ana", link); !r.Success {
		t.Fatalf("SendVerification: %+v", r)
	}
	if !strings.Contains(buf.String(), `"msg":"notify.verification.link"`) || !strings.Contains(buf.String(), "DEVTOKEN") {
		t.Fatalf("expected link in debug log: %s", buf.String())
	}

	// Opted in, but the logger is above debug.
	buf.Reset()
	s = NewLogService(slog.New(slog.NewJSONHandler(&buf, nil)), WithLinkLogging(true))
	s.SendVerification(context.Background(), "ana@example.com", "Ana", link)
	if strings.Contains(buf.String(), "DEVTOKEN") {
		t.Fatalf("link logged above debug level: %s", buf.String())
	}

	// Debug logger, but not opted in.
	buf.Reset()
	s = NewLogService(slog.New(slog.NewJSONHandler(&buf, debug)), WithLinkLogging(false))
	s.SendVerification(context.Background(), "ana@example.com", "Ana", link)
	if strings.Contains(buf.String(), "DEVTOKEN") {
		t.Fatalf("link logged without opt-in: %s", buf.String())
	}
}

func TestLogService_Failures(t *testing.T) {
	t.Parallel()

	s := NewLogService(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))

	if r := s.SendWelcome(context.Background(), "not an address", "x"); r.Success || !errors.Is(r.Err, ErrInvalidRecipient) {
		t.Fatalf("expected invalid recipient, got %+v", r)
	}
	if r := s.SendVerification(context.Background(), "a@example.com", "x", " "); r.Success || r.Err == nil {
		t.Fatalf("expected failure for empty link, got %+v", r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r := s.SendWelcome(ctx, "a@example.com", "x"); r.Success || !errors.Is(r.Err, context.Canceled) {
		t.Fatalf("expected canceled, got %+v", r)
	}
}

func TestNoopService(t *testing.T) {
	t.Parallel()

	var s Service = NoopService{}
	if !s.SendWelcome(context.Background(), "", "").Success || !s.SendVerification(context.Background(), "", "", "").Success {
		t.Fatalf("noop must always succeed")
	}
}
