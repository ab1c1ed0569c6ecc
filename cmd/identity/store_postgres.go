package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are quoted via pgx.Identifier.
// - ConsumeVerificationToken is a conditional UPDATE plus subject activation
//   inside one transaction.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema created by the embedded migrations.
const DefaultSchema = "lotgate"

// WithSchema sets the Postgres schema used by the store (default "lotgate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const subjectColumns = `id, email, email_norm, name, role, status, email_verified,
		       registered_ip, verified_ip, verified_at, created_at, updated_at`

// CreateSubject inserts a pending subject and its credential hash.
func (s *PostgresStore) CreateSubject(ctx context.Context, in CreateSubjectInput) (Subject, error) {
	const op = "identity.CreateSubject"

	if s == nil || s.pool == nil {
		return Subject{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}
	sub, err := newSubject(op, in)
	if err != nil {
		return Subject{}, err
	}

	subjects := pgIdent(s.schema, "subjects")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+subjects+` (
		     id, email, email_norm, name, role, status, email_verified,
		     registered_ip, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8, $9, $9)`,
		sub.ID,
		sub.Email,
		sub.EmailNorm,
		sub.Name,
		sub.Role,
		string(sub.Status),
		sub.RegisteredIP,
		in.PasswordHash,
		sub.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Subject{}, ConflictError{Op: op, Field: field}
		}
		return Subject{}, err
	}
	return sub, nil
}

// GetSubjectByID fetches a subject by id.
func (s *PostgresStore) GetSubjectByID(ctx context.Context, id string) (Subject, error) {
	const op = "identity.GetSubjectByID"
	id = strings.TrimSpace(id)
	if id == "" {
		return Subject{}, pgInvalid(op, "missing id")
	}
	subjects := pgIdent(s.schema, "subjects")
	row := s.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM `+subjects+` WHERE id = $1`, id)
	return scanSubject(op, row)
}

// GetSubjectByEmail fetches a subject by normalized email.
func (s *PostgresStore) GetSubjectByEmail(ctx context.Context, email string) (Subject, error) {
	const op = "identity.GetSubjectByEmail"
	norm := NormalizeEmail(email)
	if norm == "" {
		return Subject{}, pgInvalid(op, "missing email")
	}
	subjects := pgIdent(s.schema, "subjects")
	row := s.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM `+subjects+` WHERE email_norm = $1`, norm)
	return scanSubject(op, row)
}

// SetSubjectStatus changes a subject's status and returns the updated row.
func (s *PostgresStore) SetSubjectStatus(ctx context.Context, id string, status Status, now time.Time) (Subject, error) {
	const op = "identity.SetSubjectStatus"
	id = strings.TrimSpace(id)
	if id == "" {
		return Subject{}, pgInvalid(op, "missing id")
	}
	if !status.Valid() {
		return Subject{}, pgInvalid(op, "unknown status")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	subjects := pgIdent(s.schema, "subjects")
	row := s.pool.QueryRow(ctx,
		`UPDATE `+subjects+`
		    SET status = $1, updated_at = $2
		  WHERE id = $3
		RETURNING `+subjectColumns,
		string(status), now, id,
	)
	return scanSubject(op, row)
}

// DeletePendingSubject removes a subject that never left pending. Its tokens
// go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeletePendingSubject(ctx context.Context, id string) error {
	const op = "identity.DeletePendingSubject"
	id = strings.TrimSpace(id)
	if id == "" {
		return pgInvalid(op, "missing id")
	}
	subjects := pgIdent(s.schema, "subjects")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+subjects+`
		  WHERE id = $1
		    AND status = 'pending'
		    AND email_verified = false`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "subject"}
	}
	return nil
}

// CountSubjectsByIPSince counts registrations from ip in [since, now].
func (s *PostgresStore) CountSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	const op = "identity.CountSubjectsByIPSince"
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return 0, pgInvalid(op, "missing ip")
	}
	subjects := pgIdent(s.schema, "subjects")
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+subjects+`
		  WHERE registered_ip = $1
		    AND created_at >= $2`,
		ip, since,
	).Scan(&n)
	return n, err
}

// HasSuspendedSubjectWithIP reports whether any suspended subject registered from ip.
func (s *PostgresStore) HasSuspendedSubjectWithIP(ctx context.Context, ip string) (bool, error) {
	const op = "identity.HasSuspendedSubjectWithIP"
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, pgInvalid(op, "missing ip")
	}
	subjects := pgIdent(s.schema, "subjects")
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1
		       FROM `+subjects+`
		      WHERE registered_ip = $1
		        AND status = 'suspended'
		 )`,
		ip,
	).Scan(&found)
	return found, err
}

// CreateVerificationToken stores a freshly issued token hash.
func (s *PostgresStore) CreateVerificationToken(ctx context.Context, t VerificationToken) error {
	const op = "identity.CreateVerificationToken"
	if err := validateToken(op, t); err != nil {
		return err
	}
	tokens := pgIdent(s.schema, "verification_tokens")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+tokens+` (token_hash, subject_id, issued_at, expires_at, used_at)
		 VALUES ($1, $2, $3, $4, NULL)`,
		t.TokenHash, t.SubjectID, t.IssuedAt, t.ExpiresAt,
	)
	if err != nil {
		if _, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: "token"}
		}
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "subject"}
		}
		return err
	}
	return nil
}

// GetVerificationToken fetches a token by hash.
func (s *PostgresStore) GetVerificationToken(ctx context.Context, tokenHash string) (VerificationToken, error) {
	const op = "identity.GetVerificationToken"
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return VerificationToken{}, pgInvalid(op, "missing token")
	}
	tokens := pgIdent(s.schema, "verification_tokens")
	var out VerificationToken
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, subject_id, issued_at, expires_at, used_at
		   FROM `+tokens+`
		  WHERE token_hash = $1`,
		tokenHash,
	).Scan(&out.TokenHash, &out.SubjectID, &out.IssuedAt, &out.ExpiresAt, &out.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VerificationToken{}, NotFoundError{Op: op, Resource: "verification_token"}
		}
		return VerificationToken{}, err
	}
	return out, nil
}

// ConsumeVerificationToken sets used_at once and activates the owning subject.
func (s *PostgresStore) ConsumeVerificationToken(ctx context.Context, in ConsumeTokenInput) (VerificationToken, error) {
	const op = "identity.ConsumeVerificationToken"

	if s == nil || s.pool == nil {
		return VerificationToken{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return VerificationToken{}, err
	}
	hash := strings.TrimSpace(in.TokenHash)
	if hash == "" {
		return VerificationToken{}, pgInvalid(op, "missing token")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tokens := pgIdent(s.schema, "verification_tokens")
	subjects := pgIdent(s.schema, "subjects")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return VerificationToken{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The WHERE clause is the whole concurrency story: under READ COMMITTED a
	// second writer re-evaluates used_at IS NULL after the first commits.
	var out VerificationToken
	err = tx.QueryRow(ctx,
		`UPDATE `+tokens+`
		    SET used_at = $1
		  WHERE token_hash = $2
		    AND used_at IS NULL
		    AND expires_at >= $1
		RETURNING token_hash, subject_id, issued_at, expires_at, used_at`,
		now, hash,
	).Scan(&out.TokenHash, &out.SubjectID, &out.IssuedAt, &out.ExpiresAt, &out.UsedAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return VerificationToken{}, err
		}
		_ = tx.Rollback(ctx)
		if _, getErr := s.GetVerificationToken(ctx, hash); getErr != nil {
			return VerificationToken{}, getErr
		}
		return VerificationToken{}, tokenNotActive(op)
	}

	// A suspended subject stays suspended; verification only records the address.
	ct, err := tx.Exec(ctx,
		`UPDATE `+subjects+`
		    SET status = CASE WHEN status = 'suspended' THEN status ELSE 'active' END,
		        email_verified = true,
		        verified_ip = $1,
		        verified_at = $2,
		        updated_at = $2
		  WHERE id = $3`,
		pgTrimPtr(in.IP), now, out.SubjectID,
	)
	if err != nil {
		return VerificationToken{}, err
	}
	if ct.RowsAffected() != 1 {
		return VerificationToken{}, NotFoundError{Op: op, Resource: "subject"}
	}

	if err := tx.Commit(ctx); err != nil {
		return VerificationToken{}, err
	}
	return out, nil
}

func newSubject(op string, in CreateSubjectInput) (Subject, error) {
	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)
	if norm == "" || !strings.Contains(norm, "@") {
		return Subject{}, pgInvalid(op, "valid email is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Subject{}, pgInvalid(op, "name is required")
	}
	role := NormalizeRole(in.Role)
	if role == "" {
		return Subject{}, pgInvalid(op, "role is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Subject{}, pgInvalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewULID(now)
	if err != nil {
		return Subject{}, err
	}

	return Subject{
		ID:           id,
		Email:        email,
		EmailNorm:    norm,
		Name:         name,
		Role:         role,
		Status:       StatusPending,
		RegisteredIP: pgTrimPtr(in.RegisteredIP),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func validateToken(op string, t VerificationToken) error {
	if strings.TrimSpace(t.TokenHash) == "" || strings.TrimSpace(t.SubjectID) == "" {
		return pgInvalid(op, "token hash and subject are required")
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return pgInvalid(op, "expires_at must be after issued_at")
	}
	if t.UsedAt != nil {
		return pgInvalid(op, "new token cannot be used")
	}
	return nil
}

func scanSubject(op string, row pgx.Row) (Subject, error) {
	var (
		out    Subject
		status string
	)
	err := row.Scan(
		&out.ID,
		&out.Email,
		&out.EmailNorm,
		&out.Name,
		&out.Role,
		&status,
		&out.EmailVerified,
		&out.RegisteredIP,
		&out.VerifiedIP,
		&out.VerifiedAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, NotFoundError{Op: op, Resource: "subject"}
		}
		return Subject{}, err
	}
	out.Status = Status(status)
	return out, nil
}

func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_subjects_email_norm" || strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "token"):
		return "token", true
	default:
		return "unique", true
	}
}
