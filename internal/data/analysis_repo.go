package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	"github.com/target/mmk-mentions-api/internal/migrate"
)

// RepoConfig holds configuration options for the analysis repository.
type RepoConfig struct {
	Dialect      migrate.Dialect
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// AnalysisRepo stores one analysis record per owner key in brand_analysis_requests.
// The same SQL serves PostgreSQL and SQLite; Dialect selects placeholder and timestamp encoding.
type AnalysisRepo struct {
	DB           *sql.DB
	dialect      migrate.Dialect
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.AnalysisRepository = (*AnalysisRepo)(nil)

// NewAnalysisRepo creates a new AnalysisRepo with the given database connection and configuration.
func NewAnalysisRepo(db *sql.DB, cfg RepoConfig) *AnalysisRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	dialect := cfg.Dialect
	if !dialect.Valid() {
		dialect = migrate.DialectPostgres
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AnalysisRepo{
		DB:           db,
		dialect:      dialect,
		timeProvider: tp,
		logger:       logger.With("component", "analysis_repo"),
	}
}

const analysisColumns = `
  id,
  user_id,
  session_id,
  question,
  status,
  attempts,
  created_at,
  updated_at,
  started_at,
  error_message,
  results
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*model.AnalysisRecord, error) {
	var (
		rec        model.AnalysisRecord
		status     string
		created    dbTime
		updated    dbTime
		started    dbTime
		errMsg     sql.NullString
		resultsRaw []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Owner.UserID,
		&rec.Owner.SessionID,
		&rec.Query,
		&status,
		&rec.Attempts,
		&created,
		&updated,
		&started,
		&errMsg,
		&resultsRaw,
	); err != nil {
		return nil, err
	}

	rec.Status = model.AnalysisStatus(status)
	rec.CreatedAt = created.Time
	rec.UpdatedAt = updated.Time
	rec.StartedAt = started.ptr()
	if errMsg.Valid {
		msg := errMsg.String
		rec.ErrorMessage = &msg
	}
	if len(resultsRaw) > 0 {
		rec.Results = json.RawMessage(append([]byte(nil), resultsRaw...))
	}
	return &rec, nil
}

// timeArg encodes t for the dialect's timestamp columns.
func (r *AnalysisRepo) timeArg(t time.Time) any {
	if r.dialect == migrate.DialectSQLite {
		return r.timeProvider.FormatForDB(t)
	}
	return t.UTC()
}

func (r *AnalysisRepo) q(query string) string {
	return r.dialect.Rebind(query)
}

// argList accumulates positional arguments and hands out their $N placeholders.
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return "$" + strconv.Itoa(len(a.args))
}

func (a *argList) addStatuses(statuses []model.AnalysisStatus) string {
	ph := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ph = append(ph, a.add(string(s)))
	}
	return strings.Join(ph, ", ")
}

// UpsertPending creates the record for params.Owner or resets it to pending.
// The reset keeps the record ID, bumps attempts and clears started_at, error and results.
// It only applies when the existing row is in params.AllowFrom (and older than
// params.UpdatedBefore when set); otherwise model.ErrStaleTransition is returned.
func (r *AnalysisRepo) UpsertPending(
	ctx context.Context,
	params model.UpsertPendingParams,
) (*model.AnalysisRecord, error) {
	if err := params.Owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOwnerRequired, err)
	}
	if err := model.ValidateQuery(params.Query); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now()
	var a argList
	idPh := a.add(uuid.NewString())
	userPh := a.add(params.Owner.UserID)
	sessionPh := a.add(params.Owner.SessionID)
	queryPh := a.add(params.Query)
	nowPh := a.add(r.timeArg(now))

	guard := "1 = 0"
	if len(params.AllowFrom) > 0 {
		guard = "brand_analysis_requests.status IN (" + a.addStatuses(params.AllowFrom) + ")"
	}
	if params.UpdatedBefore != nil {
		guard += " AND brand_analysis_requests.updated_at < " + a.add(r.timeArg(*params.UpdatedBefore))
	}

	query := `
		INSERT INTO brand_analysis_requests (
			id, user_id, session_id, question, status, attempts, created_at, updated_at
		) VALUES (` + idPh + `, ` + userPh + `, ` + sessionPh + `, ` + queryPh + `, 'pending', 1, ` + nowPh + `, ` + nowPh + `)
		ON CONFLICT (user_id, session_id) DO UPDATE SET
			question = excluded.question,
			status = 'pending',
			attempts = brand_analysis_requests.attempts + 1,
			updated_at = excluded.updated_at,
			started_at = NULL,
			error_message = NULL,
			results = NULL
		WHERE ` + guard + `
		RETURNING ` + analysisColumns

	rec, err := scanAnalysis(r.DB.QueryRowContext(ctx, r.q(query), a.args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrStaleTransition
		}
		return nil, fmt.Errorf("upsert pending analysis: %w", err)
	}
	return rec, nil
}

// GetByKey returns the record for owner or model.ErrAnalysisNotFound.
func (r *AnalysisRepo) GetByKey(ctx context.Context, owner model.OwnerKey) (*model.AnalysisRecord, error) {
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOwnerRequired, err)
	}

	query := `
		SELECT ` + analysisColumns + `
		FROM brand_analysis_requests
		WHERE user_id = $1 AND session_id = $2
	`
	rec, err := scanAnalysis(r.DB.QueryRowContext(ctx, r.q(query), owner.UserID, owner.SessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return rec, nil
}

// SetStatus moves the record from params.From to params.To in one conditional write.
// Entering running stamps started_at. Entering failed stores the error message; every
// other target clears it. Results are always cleared here; use SetCompleted to set them.
func (r *AnalysisRepo) SetStatus(ctx context.Context, params model.SetStatusParams) error {
	if err := params.Owner.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrOwnerRequired, err)
	}
	if !params.From.Valid() || !params.To.Valid() {
		return fmt.Errorf("invalid status transition %q -> %q", params.From, params.To)
	}
	if params.To == model.AnalysisStatusCompleted {
		return errors.New("use SetCompleted to complete an analysis")
	}

	now := r.timeProvider.Now()
	var a argList
	sets := []string{
		"status = " + a.add(string(params.To)),
		"updated_at = " + a.add(r.timeArg(now)),
		"results = NULL",
	}
	switch params.To {
	case model.AnalysisStatusRunning:
		sets = append(sets, "started_at = "+a.add(r.timeArg(now)), "error_message = NULL")
	case model.AnalysisStatusFailed:
		msg := "analysis failed"
		if params.ErrorMessage != nil && strings.TrimSpace(*params.ErrorMessage) != "" {
			msg = *params.ErrorMessage
		}
		sets = append(sets, "error_message = "+a.add(msg))
	default:
		sets = append(sets, "error_message = NULL")
	}

	query := `
		UPDATE brand_analysis_requests
		SET ` + strings.Join(sets, ", ") + `
		WHERE user_id = ` + a.add(params.Owner.UserID) + `
		  AND session_id = ` + a.add(params.Owner.SessionID) + `
		  AND status = ` + a.add(string(params.From))

	res, err := r.DB.ExecContext(ctx, r.q(query), a.args...)
	if err != nil {
		return fmt.Errorf("set analysis status: %w", err)
	}
	return r.expectOneRow(ctx, res, params.Owner)
}

// SetCompleted moves a running record to completed and stores results.
func (r *AnalysisRepo) SetCompleted(ctx context.Context, owner model.OwnerKey, results json.RawMessage) error {
	if err := owner.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrOwnerRequired, err)
	}
	if len(results) == 0 || !json.Valid(results) {
		return ErrResultsRequired
	}

	query := `
		UPDATE brand_analysis_requests
		SET status = 'completed',
			results = $1,
			error_message = NULL,
			updated_at = $2
		WHERE user_id = $3
		  AND session_id = $4
		  AND status = 'running'
	`
	res, err := r.DB.ExecContext(ctx, r.q(query),
		string(results), r.timeArg(r.timeProvider.Now()), owner.UserID, owner.SessionID)
	if err != nil {
		return fmt.Errorf("set analysis completed: %w", err)
	}
	return r.expectOneRow(ctx, res, owner)
}

// expectOneRow turns a zero-row conditional update into ErrAnalysisNotFound or ErrStaleTransition.
func (r *AnalysisRepo) expectOneRow(ctx context.Context, res sql.Result, owner model.OwnerKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := r.DB.QueryRowContext(ctx,
		r.q(`SELECT COUNT(*) FROM brand_analysis_requests WHERE user_id = $1 AND session_id = $2`),
		owner.UserID, owner.SessionID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check analysis existence: %w", err)
	}
	if count == 0 {
		return model.ErrAnalysisNotFound
	}
	return model.ErrStaleTransition
}

// ListRetryable returns failed records with fewer than params.MaxAttempts attempts that
// have been failed for at least params.MinAge, oldest first.
func (r *AnalysisRepo) ListRetryable(
	ctx context.Context,
	params model.ListRetryableParams,
) ([]*model.AnalysisRecord, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	cutoff := r.timeProvider.Now().Add(-params.MinAge)

	query := `
		SELECT ` + analysisColumns + `
		FROM brand_analysis_requests
		WHERE status = 'failed'
		  AND attempts < $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	rows, err := r.DB.QueryContext(ctx, r.q(query), params.MaxAttempts, r.timeArg(cutoff), params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable analyses: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.WarnContext(ctx, "close rows failed", "error", closeErr)
		}
	}()

	var out []*model.AnalysisRecord
	for rows.Next() {
		rec, scanErr := scanAnalysis(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan retryable analysis: %w", scanErr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retryable analyses: %w", err)
	}
	return out, nil
}

// Stats counts records per status.
func (r *AnalysisRepo) Stats(ctx context.Context) (*model.AnalysisStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM brand_analysis_requests
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("query analysis stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.WarnContext(ctx, "close rows failed", "error", closeErr)
		}
	}()

	stats := &model.AnalysisStats{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return nil, fmt.Errorf("scan analysis stats: %w", scanErr)
		}
		switch model.AnalysisStatus(status) {
		case model.AnalysisStatusPending:
			stats.Pending = n
		case model.AnalysisStatusRunning:
			stats.Running = n
		case model.AnalysisStatusCompleted:
			stats.Completed = n
		case model.AnalysisStatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis stats: %w", err)
	}
	return stats, nil
}
