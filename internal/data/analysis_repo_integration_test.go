package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-mentions-api/internal/domain/model"
	"github.com/target/mmk-mentions-api/internal/migrate"
	"github.com/target/mmk-mentions-api/internal/testutil"
)

func postgresRepo(t *testing.T, tp TimeProvider) *AnalysisRepo {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
	return NewAnalysisRepo(db, RepoConfig{Dialect: migrate.DialectPostgres, TimeProvider: tp})
}

func TestAnalysisRepo_Postgres(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	runAnalysisRepoContract(t, postgresRepo)
}

func TestAnalysisRepo_PostgresReaperLock(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewAnalysisRepo(db, RepoConfig{Dialect: migrate.DialectPostgres, TimeProvider: tp})

		o := model.OwnerKey{UserID: "u1", SessionID: "s1"}
		_, err := repo.UpsertPending(ctx, submitParams(o))
		require.NoError(t, err)
		tp.AddTime(2 * time.Hour)

		// Hold the fail-stale lock from another session; the sweep must skip rather than block.
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()
		var locked bool
		require.NoError(t, tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
			advisoryLockReaperMajor, advisoryLockReaperFailStale).Scan(&locked))
		require.True(t, locked)

		n, err := repo.FailStale(ctx, model.FailStaleParams{
			Status: model.AnalysisStatusPending, MaxAge: time.Hour, BatchSize: 10,
		})
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, tx.Rollback())
		n, err = repo.FailStale(ctx, model.FailStaleParams{
			Status: model.AnalysisStatusPending, MaxAge: time.Hour, BatchSize: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
