package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"lotgate/cmd/identity/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// gooseMu serializes goose's package-level configuration.
var gooseMu sync.Mutex

// Seams for tests.
var (
	createSchema = func(ctx context.Context, db *sql.DB, schema string) error {
		_, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize())
		return err
	}
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	}
)

// Migrate applies the embedded schema migrations to DefaultSchema.
func Migrate(ctx context.Context, databaseURL string) error {
	return MigrateSchema(ctx, databaseURL, DefaultSchema)
}

// MigrateSchema creates schema if needed and applies the embedded migrations
// inside it. Migrations use unqualified names and run with search_path pinned
// to schema, so goose's version table lives there too.
func MigrateSchema(ctx context.Context, databaseURL, schema string) error {
	const op = "identity.Migrate"
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing database url"}
	}
	schema = strings.TrimSpace(schema)
	if !pgIdentRe.MatchString(schema) {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid schema identifier"}
	}

	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("identity: parse migration url: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*cfg)
	defer func() { _ = db.Close() }()

	if err := createSchema(ctx, db, schema); err != nil {
		return fmt.Errorf("identity: create schema: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("identity: goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("identity: migrate: %w", err)
	}
	return nil
}
