package data

import (
	"context"
	"database/sql"

	"github.com/target/mmk-mentions-api/internal/migrate"
)

// RunMigrations executes database migrations for dialect by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB, dialect migrate.Dialect) error {
	return migrate.Run(ctx, db, dialect)
}
