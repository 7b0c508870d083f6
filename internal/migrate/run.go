// Package migrate applies the embedded schema migrations for the supported SQL dialects.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect names the SQL flavour a database speaks.
type Dialect string

const (
	// DialectPostgres is PostgreSQL reached through the pgx stdlib driver.
	DialectPostgres Dialect = "postgres"
	// DialectSQLite is SQLite reached through modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
)

// Valid reports whether d is a supported dialect.
func (d Dialect) Valid() bool {
	return d == DialectPostgres || d == DialectSQLite
}

var ordinalParam = regexp.MustCompile(`\$([0-9]+)`)

// Rebind rewrites $N placeholders into the dialect's ordinal form.
// Queries are written once in PostgreSQL style; SQLite takes ?N.
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return ordinalParam.ReplaceAllString(query, "?$1")
}

func (d Dialect) schemaMigrationsDDL() string {
	if d == DialectSQLite {
		return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	}
	return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
}

// Run applies all SQL migrations embedded for dialect. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if !dialect.Valid() {
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	if _, err := db.ExecContext(ctx, dialect.schemaMigrationsDDL()); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := Files(dialect)
	if err != nil {
		return err
	}

	for _, f := range files {
		info := migrationInfo{
			versionStr: strings.TrimSuffix(f, ".sql"),
			file:       f,
			dir:        path.Join("migrations", string(dialect)),
			dialect:    dialect,
		}
		if applyErr := applyMigration(ctx, db, info); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// Files lists the embedded migration files for dialect in apply order.
// Whether each one has already been applied is decided by Run.
func Files(dialect Dialect) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, path.Join("migrations", string(dialect)))
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// migrationInfo holds information about a migration for processing.
type migrationInfo struct {
	versionStr string
	file       string
	dir        string
	dialect    Dialect
}

func migrationExists(ctx context.Context, db *sql.DB, info migrationInfo) (bool, error) {
	var n int
	query := info.dialect.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`)
	if err := db.QueryRowContext(ctx, query, info.versionStr).Scan(&n); err != nil {
		return false, fmt.Errorf("check migration %s: %w", info.file, err)
	}
	return n > 0, nil
}

func insertMigration(ctx context.Context, tx *sql.Tx, info migrationInfo) error {
	query := info.dialect.Rebind(`INSERT INTO schema_migrations (version) VALUES ($1)`)
	if _, err := tx.ExecContext(ctx, query, info.versionStr); err != nil {
		return fmt.Errorf("record migration %s: %w", info.file, err)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, info migrationInfo) error {
	exists, err := migrationExists(ctx, db, info)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile(path.Join(info.dir, info.file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", info.file, err)
	}

	logger := slog.Default().With("component", "migrations")
	logger.InfoContext(ctx, "applying migration", "version", info.versionStr, "dialect", info.dialect)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(
				ctx,
				"failed to rollback transaction",
				"err",
				rollbackErr,
				"migration_file",
				info.file,
			)
		}
	}()

	for _, stmt := range splitStatements(string(sqlBytes)) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return fmt.Errorf("exec migration %s: %w", info.file, execErr)
		}
	}
	if insertErr := insertMigration(ctx, tx, info); insertErr != nil {
		return insertErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %s: %w", info.file, commitErr)
	}

	return nil
}

// splitStatements splits a migration file on semicolons at line ends.
// Migration files keep one statement per terminated block and no procedural bodies.
func splitStatements(src string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
		}
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}
