package identity

import (
	"context"
	"time"
)

// Status is the lifecycle state of a subject.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	default:
		return false
	}
}

// Subject is a registered account as seen by the gateway.
type Subject struct {
	ID        string
	Email     string
	EmailNorm string
	Name      string
	Role      string
	Status    Status

	EmailVerified bool

	// RegisteredIP is nil when the client identity could not be resolved.
	RegisteredIP *string
	VerifiedIP   *string
	VerifiedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VerificationToken is the stored half of an email-verification token.
// UsedAt is set at most once.
type VerificationToken struct {
	TokenHash string
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Used reports whether the token has already been consumed.
func (t VerificationToken) Used() bool { return t.UsedAt != nil }

// Expired reports whether now is past the token's expiry.
func (t VerificationToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }

// CreateSubjectInput describes a new registration.
type CreateSubjectInput struct {
	Email        string
	Name         string
	Role         string
	PasswordHash string
	RegisteredIP *string
	Now          time.Time
}

// ConsumeTokenInput describes a verification attempt.
type ConsumeTokenInput struct {
	TokenHash string
	IP        *string
	Now       time.Time
}

// Store is the persistence boundary for subjects and verification tokens.
type Store interface {
	CreateSubject(ctx context.Context, in CreateSubjectInput) (Subject, error)
	GetSubjectByID(ctx context.Context, id string) (Subject, error)
	GetSubjectByEmail(ctx context.Context, email string) (Subject, error)
	SetSubjectStatus(ctx context.Context, id string, status Status, now time.Time) (Subject, error)
	// DeletePendingSubject removes a pending, unverified subject and its tokens.
	// Returns ErrNotFound when no such subject exists in that state.
	DeletePendingSubject(ctx context.Context, id string) error

	// CountSubjectsByIPSince counts subjects registered from ip with created_at >= since.
	CountSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	// HasSuspendedSubjectWithIP reports whether a suspended subject registered from ip.
	HasSuspendedSubjectWithIP(ctx context.Context, ip string) (bool, error)

	CreateVerificationToken(ctx context.Context, t VerificationToken) error
	GetVerificationToken(ctx context.Context, tokenHash string) (VerificationToken, error)

	// ConsumeVerificationToken marks the token used and activates its subject.
	//
	// Contract:
	// - Single conditional write: used_at is set only while it is still NULL
	//   and the token has not expired, so concurrent callers are linearizable.
	// - Returns ErrNotFound when no such token exists.
	// - Returns ErrNotActive when the token exists but was used or expired.
	ConsumeVerificationToken(ctx context.Context, in ConsumeTokenInput) (VerificationToken, error)
}
