package migrate

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_SQLiteIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db, DialectSQLite))
	require.NoError(t, Run(ctx, db, DialectSQLite))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	files, err := Files(DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, len(files), n)

	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM brand_analysis_requests`).Scan(&n))
	assert.Zero(t, n)
}

func TestRun_SQLiteEnforcesOutcomeCheck(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, Run(ctx, db, DialectSQLite))

	_, err := db.ExecContext(ctx, `
		INSERT INTO brand_analysis_requests
			(id, user_id, session_id, question, status, created_at, updated_at, error_message, results)
		VALUES ('a', 'u1', 's1', 'q', 'failed', 'now', 'now', 'boom', '{}')`)
	require.Error(t, err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO brand_analysis_requests (id, user_id, session_id, question, status, created_at, updated_at)
		VALUES ('a', 'u1', 's1', 'q', 'pending', 'now', 'now')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO brand_analysis_requests (id, user_id, session_id, question, status, created_at, updated_at)
		VALUES ('b', 'u1', 's1', 'q', 'pending', 'now', 'now')`)
	require.Error(t, err, "owner key must be unique")
}

func TestRun_RejectsUnknownDialect(t *testing.T) {
	err := Run(context.Background(), nil, Dialect("mysql"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = $1 AND b IN ($2, $10)`
	assert.Equal(t, q, DialectPostgres.Rebind(q))
	assert.Equal(t, `SELECT * FROM t WHERE a = ?1 AND b IN (?2, ?10)`, DialectSQLite.Rebind(q))
}

func TestSplitStatements(t *testing.T) {
	src := "-- header\nCREATE TABLE a (\n  id INT\n);\n\nCREATE INDEX i ON a (id);\n"
	stmts := splitStatements(src)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (\n  id INT\n);", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a (id);", stmts[1])
}

func TestFiles_BothDialectsShipSameVersions(t *testing.T) {
	pg, err := Files(DialectPostgres)
	require.NoError(t, err)
	lite, err := Files(DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, pg, lite)
	assert.NotEmpty(t, pg)
}
