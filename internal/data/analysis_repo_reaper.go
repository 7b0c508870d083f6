package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/target/mmk-mentions-api/internal/data/sqlutil"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	"github.com/target/mmk-mentions-api/internal/migrate"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 1000 is reserved for mentions reaper operations.
const (
	advisoryLockReaperMajor     = 1000
	advisoryLockReaperFailStale = 1 // minor key for FailStale
	advisoryLockReaperDelete    = 2 // minor key for DeleteOlderThan
)

// withReaperLock runs fn in a transaction. On PostgreSQL the transaction first takes the
// advisory lock for minor and skips fn when another reaper instance holds it. SQLite
// serialises writers itself, so fn always runs.
func (r *AnalysisRepo) withReaperLock(ctx context.Context, minor int, fn func(*sql.Tx) error) error {
	return sqlutil.WithTx(ctx, r.DB, sqlutil.TxConfig{
		Fn: func(tx *sql.Tx) error {
			if r.dialect == migrate.DialectPostgres {
				var locked bool
				if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
					return fmt.Errorf("acquire advisory lock: %w", err)
				}
				if !locked {
					r.logger.DebugContext(ctx, "reaper lock held elsewhere", "minor", minor)
					return nil
				}
			}
			return fn(tx)
		},
	})
}

// FailStale marks in-flight records of params.Status that saw no update within params.MaxAge
// as failed. Processes up to params.BatchSize records per call to prevent long locks.
// Returns the number of records marked as failed.
func (r *AnalysisRepo) FailStale(ctx context.Context, params model.FailStaleParams) (int64, error) {
	if !params.Status.InFlight() {
		return 0, fmt.Errorf("invalid stale status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, ErrBatchSizeRequired
	}
	if params.MaxAge <= 0 {
		return 0, ErrMaxAgeRequired
	}
	msg := strings.TrimSpace(params.ErrorMessage)
	if msg == "" {
		msg = fmt.Sprintf("analysis timed out in %s status", params.Status)
	}

	var rowsAffected int64
	err := r.withReaperLock(ctx, advisoryLockReaperFailStale, func(tx *sql.Tx) error {
		currentTime := r.timeProvider.Now()
		cutoffTime := currentTime.Add(-params.MaxAge)

		res, err := tx.ExecContext(ctx, r.q(`
			UPDATE brand_analysis_requests
			SET status = 'failed',
				error_message = $1,
				results = NULL,
				updated_at = $2
			WHERE id IN (
				SELECT id FROM brand_analysis_requests
				WHERE status = $3
				  AND updated_at < $4
				ORDER BY updated_at
				LIMIT $5
			)
		`), msg, r.timeArg(currentTime), string(params.Status), r.timeArg(cutoffTime), params.BatchSize)
		if err != nil {
			return fmt.Errorf("fail stale analyses: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOlderThan deletes records in params.Statuses whose last update is older than params.MaxAge.
// Processes up to params.BatchSize records per call to prevent long locks and I/O spikes.
// Returns the number of records deleted.
func (r *AnalysisRepo) DeleteOlderThan(ctx context.Context, params model.DeleteOlderThanParams) (int64, error) {
	if len(params.Statuses) == 0 {
		return 0, fmt.Errorf("at least one status is required")
	}
	for _, s := range params.Statuses {
		if !s.Valid() {
			return 0, fmt.Errorf("invalid analysis status: %s", s)
		}
	}
	if params.BatchSize <= 0 {
		return 0, ErrBatchSizeRequired
	}
	if params.MaxAge <= 0 {
		return 0, ErrMaxAgeRequired
	}

	var rowsAffected int64
	err := r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) error {
		cutoffTime := r.timeProvider.Now().Add(-params.MaxAge)

		var a argList
		statusPh := a.addStatuses(params.Statuses)
		query := `
			DELETE FROM brand_analysis_requests
			WHERE id IN (
				SELECT id FROM brand_analysis_requests
				WHERE status IN (` + statusPh + `)
				  AND updated_at < ` + a.add(r.timeArg(cutoffTime)) + `
				ORDER BY updated_at
				LIMIT ` + a.add(params.BatchSize) + `
			)
		`
		res, err := tx.ExecContext(ctx, r.q(query), a.args...)
		if err != nil {
			return fmt.Errorf("delete old analyses: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
