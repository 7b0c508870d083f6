package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	obserrors "github.com/target/mmk-mentions-api/internal/observability/errors"
	"github.com/target/mmk-mentions-api/internal/observability/metrics"
	"github.com/target/mmk-mentions-api/internal/observability/statsd"
)

// Resubmitter starts a new attempt for a failed analysis. AnalysisService implements it.
type Resubmitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
}

// RetentionServiceOptions groups dependencies for RetentionService.
type RetentionServiceOptions struct {
	Repo         core.AnalysisRepository   // Required: analysis store
	Config       config.ReaperConfig       // Required: sweep interval and retention windows
	Orchestrator config.OrchestratorConfig // Stale-running threshold and retry policy
	Resubmitter  Resubmitter               // Optional: enables automatic retry of failed analyses
	Logger       *slog.Logger              // Optional: structured logger
	Metrics      statsd.Sink               // Optional: metrics sink (StatsD-compatible)
}

// RetentionService keeps the analysis table bounded.
//
// Each sweep:
// - fails running analyses with no progress for StaleRunningAfter,
// - fails pending analyses never started within PendingMaxAge,
// - re-submits failed analyses when automatic retry is enabled,
// - deletes completed and failed analyses past their retention window.
type RetentionService struct {
	repo        core.AnalysisRepository
	config      config.ReaperConfig
	orch        config.OrchestratorConfig
	resubmitter Resubmitter
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewRetentionService constructs a new RetentionService.
func NewRetentionService(opts RetentionServiceOptions) (*RetentionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AnalysisRepository is required")
	}
	if opts.Orchestrator.FailedRetry == config.FailedRetryAuto && opts.Resubmitter == nil {
		return nil, errors.New("automatic retry requires a Resubmitter")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retention_service")
	logger.Debug("RetentionService initialized",
		"interval", opts.Config.Interval,
		"pending_max_age", opts.Config.PendingMaxAge,
		"completed_max_age", opts.Config.CompletedMaxAge,
		"failed_max_age", opts.Config.FailedMaxAge,
		"stale_running_after", opts.Orchestrator.StaleRunningAfter,
		"failed_retry", opts.Orchestrator.FailedRetry,
	)

	return &RetentionService{
		repo:        opts.Repo,
		config:      opts.Config,
		orch:        opts.Orchestrator,
		resubmitter: opts.Resubmitter,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// MustNewRetentionService constructs a RetentionService and panics on error.
func MustNewRetentionService(opts RetentionServiceOptions) *RetentionService {
	svc, err := NewRetentionService(opts)
	if err != nil {
		//nolint:forbidigo // Must* constructors are expected to panic on invalid wiring
		panic(fmt.Sprintf("failed to create RetentionService: %v", err))
	}
	return svc
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *RetentionService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting retention service", "interval", s.config.Interval)

	// Spread replicas that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "retention service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logSweepError(err, "sweep")
			}
		}
	}
}

// waitWithJitter waits a random delay up to 10% of the interval.
func (s *RetentionService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

type sweepFunc func(context.Context) (int64, error)

type sweepStep struct {
	operation string
	label     string
	fn        sweepFunc
}

type sweepOutcome struct {
	operation string
	count     int64
	err       error
}

// RunOnce performs one full sweep. Every step runs even when an earlier one fails.
func (s *RetentionService) RunOnce(ctx context.Context) error {
	start := time.Now()

	steps := []sweepStep{
		{operation: "fail_running", label: "fail stale running analyses", fn: s.failStaleRunning},
		{operation: "fail_pending", label: "fail stale pending analyses", fn: s.failStalePending},
		{operation: "retry_failed", label: "retry failed analyses", fn: s.retryFailed},
		{operation: "delete_completed", label: "delete old completed analyses", fn: s.deleteCompleted},
		{operation: "delete_failed", label: "delete old failed analyses", fn: s.deleteFailed},
	}

	var (
		errs        []error
		allCanceled = true
		outcomes    = make([]sweepOutcome, 0, len(steps))
	)
	for _, step := range steps {
		count, err := step.fn(ctx)
		outcomes = append(outcomes, sweepOutcome{
			operation: step.operation,
			count:     count,
			err:       suppressContextCancellation(err),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	s.emitSweepMetrics(outcomes, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allCanceled {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}
	return nil
}

// SweepOlderThan deletes completed and failed analyses not updated within maxAge.
func (s *RetentionService) SweepOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, errors.New("max age must be positive")
	}
	n, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOlderThan(ctx, model.DeleteOlderThanParams{
			Statuses:  []model.AnalysisStatus{model.AnalysisStatusCompleted, model.AnalysisStatusFailed},
			MaxAge:    maxAge,
			BatchSize: s.batchSize(),
		})
	})
	s.emitOperationMetric("sweep_older_than", n, suppressContextCancellation(err))
	if n > 0 {
		s.logger.InfoContext(ctx, "deleted old analyses", "count", n, "max_age", maxAge)
	}
	return n, err
}

// drain repeats one batched operation until it affects no rows.
func (s *RetentionService) drain(ctx context.Context, fn sweepFunc) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *RetentionService) batchSize() int {
	if s.config.BatchSize < 1 {
		return 1
	}
	return s.config.BatchSize
}

func (s *RetentionService) failStaleRunning(ctx context.Context) (int64, error) {
	if s.orch.StaleRunningAfter <= 0 {
		return 0, nil
	}
	n, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.FailStale(ctx, model.FailStaleParams{
			Status:       model.AnalysisStatusRunning,
			MaxAge:       s.orch.StaleRunningAfter,
			BatchSize:    s.batchSize(),
			ErrorMessage: fmt.Sprintf("analysis made no progress for %s", s.orch.StaleRunningAfter),
		})
	})
	if n > 0 {
		s.logger.WarnContext(ctx, "failed stale running analyses", "count", n, "max_age", s.orch.StaleRunningAfter)
	}
	return n, err
}

func (s *RetentionService) failStalePending(ctx context.Context) (int64, error) {
	n, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.FailStale(ctx, model.FailStaleParams{
			Status:       model.AnalysisStatusPending,
			MaxAge:       s.config.PendingMaxAge,
			BatchSize:    s.batchSize(),
			ErrorMessage: fmt.Sprintf("analysis was not started within %s", s.config.PendingMaxAge),
		})
	})
	if n > 0 {
		s.logger.WarnContext(ctx, "failed stale pending analyses", "count", n, "max_age", s.config.PendingMaxAge)
	}
	return n, err
}

// retryFailed re-submits failed analyses that still have automatic attempts left.
// A failed analysis waits at least one sweep interval before it is retried.
func (s *RetentionService) retryFailed(ctx context.Context) (int64, error) {
	if s.orch.FailedRetry != config.FailedRetryAuto || s.resubmitter == nil {
		return 0, nil
	}
	recs, err := s.repo.ListRetryable(ctx, model.ListRetryableParams{
		MaxAttempts: s.orch.MaxAutoRetries + 1,
		MinAge:      s.config.Interval,
		Limit:       s.batchSize(),
	})
	if err != nil {
		return 0, err
	}

	var (
		retried int64
		errs    []error
	)
	for _, rec := range recs {
		if ctx.Err() != nil {
			return retried, ctx.Err()
		}
		res, subErr := s.resubmitter.Submit(ctx, model.SubmitRequest{Owner: rec.Owner, Query: rec.Query})
		if subErr != nil {
			errs = append(errs, fmt.Errorf("retry %s: %w", rec.Owner.String(), subErr))
			continue
		}
		if res.Accepted {
			retried++
			s.logger.InfoContext(ctx, "retrying failed analysis",
				"owner", rec.Owner.String(), "previous_attempts", rec.Attempts)
		}
	}
	return retried, errors.Join(errs...)
}

func (s *RetentionService) deleteCompleted(ctx context.Context) (int64, error) {
	return s.deleteOld(ctx, model.AnalysisStatusCompleted, s.config.CompletedMaxAge)
}

func (s *RetentionService) deleteFailed(ctx context.Context) (int64, error) {
	return s.deleteOld(ctx, model.AnalysisStatusFailed, s.config.FailedMaxAge)
}

func (s *RetentionService) deleteOld(ctx context.Context, status model.AnalysisStatus, maxAge time.Duration) (int64, error) {
	n, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOlderThan(ctx, model.DeleteOlderThanParams{
			Statuses:  []model.AnalysisStatus{status},
			MaxAge:    maxAge,
			BatchSize: s.batchSize(),
		})
	})
	if n > 0 {
		s.logger.InfoContext(ctx, "deleted old analyses", "status", status, "count", n, "max_age", maxAge)
	}
	return n, err
}

func (s *RetentionService) emitSweepMetrics(outcomes []sweepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, o := range outcomes {
		total += o.count
		if firstErr == nil {
			firstErr = o.err
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("retention.sweep", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("retention.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	for _, o := range outcomes {
		s.emitOperationMetric(o.operation, o.count, o.err)
	}
	if firstErr == nil {
		s.metrics.Gauge("retention.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *RetentionService) emitOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("retention.sweep_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("retention.records_processed", count, metrics.CloneTags(tags))
	}
}

func (s *RetentionService) logSweepError(err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
