package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev-only fallback when no database is configured.
// A single mutex serializes every operation, which gives ConsumeVerificationToken
// the same linearizable behavior as the conditional UPDATE in PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	subjects map[string]*memSubject       // id -> subject
	byEmail  map[string]string            // email_norm -> id
	tokens   map[string]VerificationToken // token_hash -> token
}

type memSubject struct {
	Subject
	passwordHash string
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects: make(map[string]*memSubject),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]VerificationToken),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// CreateSubject inserts a pending subject.
func (s *MemoryStore) CreateSubject(ctx context.Context, in CreateSubjectInput) (Subject, error) {
	const op = "identity.CreateSubject"
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}
	sub, err := newSubject(op, in)
	if err != nil {
		return Subject{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[sub.EmailNorm]; exists {
		return Subject{}, ConflictError{Op: op, Field: "email"}
	}
	s.subjects[sub.ID] = &memSubject{Subject: sub, passwordHash: in.PasswordHash}
	s.byEmail[sub.EmailNorm] = sub.ID
	return cloneSubject(sub), nil
}

// GetSubjectByID fetches a subject by id.
func (s *MemoryStore) GetSubjectByID(ctx context.Context, id string) (Subject, error) {
	const op = "identity.GetSubjectByID"
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.subjects[strings.TrimSpace(id)]
	if !ok {
		return Subject{}, NotFoundError{Op: op, Resource: "subject"}
	}
	return cloneSubject(m.Subject), nil
}

// GetSubjectByEmail fetches a subject by normalized email.
func (s *MemoryStore) GetSubjectByEmail(ctx context.Context, email string) (Subject, error) {
	const op = "identity.GetSubjectByEmail"
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Subject{}, NotFoundError{Op: op, Resource: "subject"}
	}
	return cloneSubject(s.subjects[id].Subject), nil
}

// SetSubjectStatus changes a subject's status.
func (s *MemoryStore) SetSubjectStatus(ctx context.Context, id string, status Status, now time.Time) (Subject, error) {
	const op = "identity.SetSubjectStatus"
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}
	if !status.Valid() {
		return Subject{}, pgInvalid(op, "unknown status")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.subjects[strings.TrimSpace(id)]
	if !ok {
		return Subject{}, NotFoundError{Op: op, Resource: "subject"}
	}
	m.Status = status
	m.UpdatedAt = now
	return cloneSubject(m.Subject), nil
}

// DeletePendingSubject removes a pending, unverified subject and its tokens.
func (s *MemoryStore) DeletePendingSubject(ctx context.Context, id string) error {
	const op = "identity.DeletePendingSubject"
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.subjects[strings.TrimSpace(id)]
	if !ok || m.Status != StatusPending || m.EmailVerified {
		return NotFoundError{Op: op, Resource: "subject"}
	}
	delete(s.subjects, m.ID)
	delete(s.byEmail, m.EmailNorm)
	for hash, t := range s.tokens {
		if t.SubjectID == m.ID {
			delete(s.tokens, hash)
		}
	}
	return nil
}

// CountSubjectsByIPSince counts registrations from ip with created_at >= since.
func (s *MemoryStore) CountSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return 0, pgInvalid("identity.CountSubjectsByIPSince", "missing ip")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.subjects {
		if m.RegisteredIP == nil || *m.RegisteredIP != ip {
			continue
		}
		if !m.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// HasSuspendedSubjectWithIP reports whether a suspended subject registered from ip.
func (s *MemoryStore) HasSuspendedSubjectWithIP(ctx context.Context, ip string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, pgInvalid("identity.HasSuspendedSubjectWithIP", "missing ip")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.subjects {
		if m.Status == StatusSuspended && m.RegisteredIP != nil && *m.RegisteredIP == ip {
			return true, nil
		}
	}
	return false, nil
}

// CreateVerificationToken stores a freshly issued token.
func (s *MemoryStore) CreateVerificationToken(ctx context.Context, t VerificationToken) error {
	const op = "identity.CreateVerificationToken"
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateToken(op, t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subjects[t.SubjectID]; !ok {
		return NotFoundError{Op: op, Resource: "subject"}
	}
	if _, exists := s.tokens[t.TokenHash]; exists {
		return ConflictError{Op: op, Field: "token"}
	}
	s.tokens[t.TokenHash] = t
	return nil
}

// GetVerificationToken fetches a token by hash.
func (s *MemoryStore) GetVerificationToken(ctx context.Context, tokenHash string) (VerificationToken, error) {
	const op = "identity.GetVerificationToken"
	if err := ctx.Err(); err != nil {
		return VerificationToken{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[strings.TrimSpace(tokenHash)]
	if !ok {
		return VerificationToken{}, NotFoundError{Op: op, Resource: "verification_token"}
	}
	return cloneToken(t), nil
}

// ConsumeVerificationToken sets used_at once and activates the owning subject.
func (s *MemoryStore) ConsumeVerificationToken(ctx context.Context, in ConsumeTokenInput) (VerificationToken, error) {
	const op = "identity.ConsumeVerificationToken"
	if err := ctx.Err(); err != nil {
		return VerificationToken{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[strings.TrimSpace(in.TokenHash)]
	if !ok {
		return VerificationToken{}, NotFoundError{Op: op, Resource: "verification_token"}
	}
	if t.UsedAt != nil || now.After(t.ExpiresAt) {
		return VerificationToken{}, tokenNotActive(op)
	}
	m, ok := s.subjects[t.SubjectID]
	if !ok {
		return VerificationToken{}, NotFoundError{Op: op, Resource: "subject"}
	}

	used := now
	t.UsedAt = &used
	s.tokens[t.TokenHash] = t

	if m.Status != StatusSuspended {
		m.Status = StatusActive
	}
	m.EmailVerified = true
	m.VerifiedIP = pgTrimPtr(in.IP)
	verifiedAt := now
	m.VerifiedAt = &verifiedAt
	m.UpdatedAt = now

	return cloneToken(t), nil
}

func cloneSubject(in Subject) Subject {
	out := in
	out.RegisteredIP = copyStr(in.RegisteredIP)
	out.VerifiedIP = copyStr(in.VerifiedIP)
	if in.VerifiedAt != nil {
		v := *in.VerifiedAt
		out.VerifiedAt = &v
	}
	return out
}

func cloneToken(in VerificationToken) VerificationToken {
	out := in
	if in.UsedAt != nil {
		v := *in.UsedAt
		out.UsedAt = &v
	}
	return out
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
