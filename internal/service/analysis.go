package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/analysis"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	apperrors "github.com/target/mmk-mentions-api/internal/errors"
	"github.com/target/mmk-mentions-api/internal/observability/metrics"
	"github.com/target/mmk-mentions-api/internal/observability/statsd"
	"github.com/target/mmk-mentions-api/internal/service/aggregator"
)

const (
	// terminalWriteTimeout bounds each attempt of the final store write.
	terminalWriteTimeout = 10 * time.Second
	// minFinalWriteAttempts guarantees at least one retry of the terminal write.
	minFinalWriteAttempts = 2
)

var (
	// ErrInProgress is returned by callers that treat a non-accepted submission as a conflict.
	ErrInProgress = &apperrors.AppError{Code: apperrors.ErrCodeConflict, Message: "analysis already in progress"}

	// ErrShuttingDown is returned by Submit after Shutdown has started.
	ErrShuttingDown = &apperrors.AppError{Code: apperrors.ErrCodeCanceled, Message: "analysis service is shutting down"}
)

// AnalysisServiceOptions groups dependencies for AnalysisService.
type AnalysisServiceOptions struct {
	Repo     core.AnalysisRepository   // Required: durable analysis store
	Executor core.BranchExecutor       // Required: runs each branch
	Config   config.OrchestratorConfig // Required: branches, timeouts and retry policy
	Deps     AnalysisServiceDeps       // Optional collaborators
}

// AnalysisServiceDeps holds optional collaborators of AnalysisService.
type AnalysisServiceDeps struct {
	Registry core.DispatchRegistry  // Defaults to an in-process registry
	Cache    *core.ViewCacheService // Caches completed views
	Logger   *slog.Logger
	Metrics  statsd.Sink
	// Clock is used for staleness decisions; it must agree with the store's clock.
	Clock func() time.Time
}

// AnalysisService orchestrates brand analyses: it deduplicates submissions per owner key,
// runs the branches in the background and commits one terminal state per attempt.
type AnalysisService struct {
	repo     core.AnalysisRepository
	machine  *analysis.StatusMachine
	agg      *aggregator.Aggregator
	registry core.DispatchRegistry
	cache    *core.ViewCacheService
	cfg      config.OrchestratorConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time

	rootCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewAnalysisService constructs an AnalysisService.
func NewAnalysisService(opts AnalysisServiceOptions) (*AnalysisService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AnalysisRepository is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("BranchExecutor is required")
	}
	if len(opts.Config.Branches) == 0 {
		return nil, errors.New("at least one branch is required")
	}

	base := opts.Deps.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("component", "analysis_service")

	// Collaborators tag their own component, so they derive from the untagged logger.
	agg, err := aggregator.New(aggregator.Options{Executor: opts.Executor, Logger: base})
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}

	registry := opts.Deps.Registry
	if registry == nil {
		registry = analysis.NewLocalRegistry()
	}
	now := opts.Deps.Clock
	if now == nil {
		now = time.Now
	}
	cfg := opts.Config
	if cfg.FinalWriteAttempts < minFinalWriteAttempts {
		cfg.FinalWriteAttempts = minFinalWriteAttempts
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	logger.Debug("AnalysisService initialized",
		"branches", cfg.Branches,
		"branch_timeout", cfg.BranchTimeout,
		"stale_running_after", cfg.StaleRunningAfter,
		"failed_retry", cfg.FailedRetry,
	)

	return &AnalysisService{
		repo:     opts.Repo,
		machine:  analysis.NewStatusMachine(opts.Repo, base),
		agg:      agg,
		registry: registry,
		cache:    opts.Deps.Cache,
		cfg:      cfg,
		logger:   logger,
		metrics:  opts.Deps.Metrics,
		now:      now,
		rootCtx:  rootCtx,
		cancel:   cancel,
	}, nil
}

// MustNewAnalysisService constructs an AnalysisService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewAnalysisService(opts AnalysisServiceOptions) *AnalysisService {
	svc, err := NewAnalysisService(opts)
	if err != nil {
		//nolint:forbidigo // Must* constructors are expected to panic on invalid wiring
		panic(fmt.Sprintf("failed to create AnalysisService: %v", err))
	}
	return svc
}

// InProgress converts a submission that did not start because another execution owns
// the key into ErrInProgress. Accepted and completed results yield nil.
func InProgress(res *model.SubmitResult) error {
	if res != nil && !res.Accepted && res.Status.InFlight() {
		return ErrInProgress
	}
	return nil
}

// submitPlan is what Submit decided to do with the existing record.
type submitPlan struct {
	reset       bool
	from        model.AnalysisStatus
	reason      analysis.ResetReason
	staleBefore *time.Time
}

// Submit starts an analysis for req.Owner unless one is already running or completed.
// It never waits for the analysis to finish.
func (s *AnalysisService) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	owner, err := validateOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	if qErr := model.ValidateQuery(req.Query); qErr != nil {
		return nil, apperrors.ValidationField("query", qErr.Error())
	}

	rec, err := s.repo.GetByKey(ctx, owner)
	if err != nil && !errors.Is(err, model.ErrAnalysisNotFound) {
		return nil, storeError(err)
	}
	if err != nil {
		rec = nil
	}

	plan := s.plan(rec, req.Force)
	if !plan.reset {
		s.emitSubmit(metrics.ResultNoop, nil)
		return notAccepted(rec), nil
	}

	lease, ok, err := s.registry.TryAcquire(ctx, owner)
	if err != nil {
		s.emitSubmit(metrics.ResultError, err)
		return nil, apperrors.StoreUnavailable(fmt.Errorf("acquire dispatch lease: %w", err))
	}
	if !ok {
		s.emitSubmit(metrics.ResultNoop, nil)
		return s.currentState(ctx, owner, rec)
	}

	started, err := s.start(ctx, lease, req.Query, plan)
	if err != nil {
		s.releaseLease(ctx, lease)
		if errors.Is(err, model.ErrStaleTransition) {
			// Another submission got there between our read and the upsert.
			s.emitSubmit(metrics.ResultNoop, nil)
			return s.currentState(ctx, owner, nil)
		}
		s.emitSubmit(metrics.ResultError, err)
		if errors.Is(err, ErrShuttingDown) {
			return nil, err
		}
		return nil, storeError(err)
	}

	s.emitSubmit(metrics.ResultSuccess, nil)
	s.logger.InfoContext(ctx, "analysis accepted",
		"owner", owner.String(), "analysis_id", started.ID, "attempt", started.Attempts, "reason", plan.reason)
	return &model.SubmitResult{Accepted: true, Status: started.Status, View: started.View()}, nil
}

// plan decides whether rec is reset to pending and under which transition.
func (s *AnalysisService) plan(rec *model.AnalysisRecord, force bool) submitPlan {
	if rec == nil {
		return submitPlan{reset: true, from: analysis.StatusNone, reason: analysis.ResetSubmit}
	}
	switch rec.Status {
	case model.AnalysisStatusFailed:
		return submitPlan{reset: true, from: rec.Status, reason: analysis.ResetSubmit}
	case model.AnalysisStatusCompleted:
		if force {
			guard := rec.UpdatedAt.Add(time.Microsecond)
			return submitPlan{reset: true, from: rec.Status, reason: analysis.ResetForce, staleBefore: &guard}
		}
	case model.AnalysisStatusPending:
		// A pending record is only orphaned when nobody holds its lease; TryAcquire decides.
		if s.cfg.StaleRunningAfter > 0 {
			guard := rec.UpdatedAt.Add(time.Microsecond)
			return submitPlan{reset: true, from: rec.Status, reason: analysis.ResetReclaim, staleBefore: &guard}
		}
	case model.AnalysisStatusRunning:
		if s.cfg.StaleRunningAfter > 0 {
			cutoff := s.now().Add(-s.cfg.StaleRunningAfter)
			if rec.UpdatedAt.Before(cutoff) {
				return submitPlan{reset: true, from: rec.Status, reason: analysis.ResetReclaim, staleBefore: &cutoff}
			}
		}
	}
	return submitPlan{}
}

// start resets the record to pending and hands the lease to a background execution.
func (s *AnalysisService) start(
	ctx context.Context,
	lease analysis.Lease,
	query string,
	plan submitPlan,
) (*model.AnalysisRecord, error) {
	// Reserve the execution slot under the lock, then write without it so submissions for
	// other owners do not queue behind this upsert.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	rec, err := s.machine.Reset(ctx, analysis.ResetRequest{
		Owner:       lease.Owner,
		Query:       query,
		From:        plan.from,
		Reason:      plan.reason,
		StaleBefore: plan.staleBefore,
	})
	if err != nil {
		s.inflight.Done()
		return nil, err
	}
	s.invalidate(ctx, lease.Owner)
	if plan.reason == analysis.ResetReclaim {
		s.logger.WarnContext(ctx, "reclaimed orphaned analysis",
			"owner", lease.Owner.String(), "from", plan.from)
	}

	go func() {
		defer s.inflight.Done()
		s.execute(lease, rec)
	}()
	return rec, nil
}

// execute runs one attempt while holding the dispatch lease.
func (s *AnalysisService) execute(lease analysis.Lease, rec *model.AnalysisRecord) {
	logger := s.logger.With("owner", rec.Owner.String(), "analysis_id", rec.ID, "attempt", rec.Attempts)
	err := analysis.Hold(s.rootCtx, s.registry, lease, logger, func(ctx context.Context) error {
		return s.run(ctx, rec, logger)
	})
	if err != nil {
		logger.Error("analysis execution ended with error", "error", err)
	}
}

func (s *AnalysisService) run(ctx context.Context, rec *model.AnalysisRecord, logger *slog.Logger) (err error) {
	start := time.Now()
	owner := rec.Owner
	from := model.AnalysisStatusPending

	defer func() {
		if r := recover(); r != nil {
			logger.Error("analysis panicked", "panic", r, "stack", string(debug.Stack()))
			err = s.fail(owner, from, apperrors.Orchestrationf("analysis panicked: %v", r), logger, start)
		}
	}()

	if startErr := s.machine.Start(ctx, owner); startErr != nil {
		s.emitTransition("start", metrics.ResultError, 0, startErr)
		if errors.Is(startErr, model.ErrStaleTransition) || errors.Is(startErr, model.ErrAnalysisNotFound) {
			// The record moved on without us; nothing to finish.
			return fmt.Errorf("mark running: %w", startErr)
		}
		return s.fail(owner, from, apperrors.Wrapf(startErr, apperrors.ErrCodeOrchestration, "mark analysis running"), logger, start)
	}
	from = model.AnalysisStatusRunning
	s.invalidate(ctx, owner)
	s.emitTransition("start", metrics.ResultSuccess, 0, nil)

	res, aggErr := s.agg.Run(ctx, aggregator.Request{
		Owner:    owner,
		Query:    rec.Query,
		Branches: s.cfg.Branches,
		Timeout:  s.cfg.BranchTimeout,
	})
	if aggErr != nil {
		return s.fail(owner, from, aggErr, logger, start)
	}
	s.emitBranchOutcomes(res.Outcomes)
	if res.Interrupted {
		return s.fail(owner, from, apperrors.Orchestration("analysis interrupted by shutdown"), logger, start)
	}

	err = s.writeTerminal(owner, "complete", logger, func(wctx context.Context) error {
		return s.machine.Complete(wctx, owner, res.Payload)
	})
	if err != nil {
		s.emitTransition("complete", metrics.ResultError, time.Since(start), err)
		return err
	}
	s.emitTransition("complete", metrics.ResultSuccess, time.Since(start), nil)
	logger.Info("analysis completed",
		"succeeded", res.Merged.Summary.Succeeded,
		"failed", res.Merged.Summary.Failed,
		"timed_out", res.Merged.Summary.TimedOut,
		"total_items", res.Merged.Summary.TotalItems,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// fail records cause as the terminal failure of the attempt.
func (s *AnalysisService) fail(
	owner model.OwnerKey,
	from model.AnalysisStatus,
	cause error,
	logger *slog.Logger,
	start time.Time,
) error {
	msg := cause.Error()
	logger.Warn("analysis failed", "from", from, "error", cause)
	err := s.writeTerminal(owner, "fail", logger, func(wctx context.Context) error {
		return s.machine.Fail(wctx, owner, from, msg)
	})
	if err != nil {
		s.emitTransition("fail", metrics.ResultError, time.Since(start), err)
		return errors.Join(cause, err)
	}
	s.emitTransition("fail", metrics.ResultSuccess, time.Since(start), cause)
	return cause
}

// writeTerminal retries the final store write on a context detached from shutdown, so a
// poller still observes a terminal state.
func (s *AnalysisService) writeTerminal(
	owner model.OwnerKey,
	transition string,
	logger *slog.Logger,
	write func(context.Context) error,
) error {
	base := context.WithoutCancel(s.rootCtx)
	var err error
	for attempt := 1; attempt <= s.cfg.FinalWriteAttempts; attempt++ {
		wctx, cancel := context.WithTimeout(base, terminalWriteTimeout)
		err = write(wctx)
		if err == nil {
			s.invalidate(wctx, owner)
			cancel()
			return nil
		}
		cancel()
		if !retryableWrite(err) || attempt == s.cfg.FinalWriteAttempts {
			break
		}
		logger.Warn("terminal write failed, retrying", "transition", transition, "attempt", attempt, "error", err)
		time.Sleep(s.cfg.FinalWriteBackoff * time.Duration(attempt))
	}

	logger.Error("terminal write failed", "transition", transition, "error", err)
	if s.metrics != nil {
		s.metrics.Count("analysis.terminal_write_failed", 1, map[string]string{"transition": transition})
	}
	return fmt.Errorf("%s analysis: %w", transition, err)
}

func retryableWrite(err error) bool {
	return !errors.Is(err, model.ErrStaleTransition) &&
		!errors.Is(err, model.ErrAnalysisNotFound) &&
		!errors.Is(err, analysis.ErrInvalidTransition)
}

// Status returns the externally visible state of the analysis for owner. It never writes.
func (s *AnalysisService) Status(ctx context.Context, owner model.OwnerKey) (*model.AnalysisView, error) {
	owner, err := validateOwner(owner)
	if err != nil {
		return nil, err
	}

	if s.cache.Enabled() {
		v, cacheErr := s.cache.Get(ctx, owner)
		if cacheErr != nil {
			s.logger.WarnContext(ctx, "view cache read failed", "owner", owner.String(), "error", cacheErr)
		} else if v != nil && v.UserID == owner.UserID && v.SessionID == owner.SessionID {
			return v, nil
		}
	}

	rec, err := s.repo.GetByKey(ctx, owner)
	if errors.Is(err, model.ErrAnalysisNotFound) {
		return nil, apperrors.NotFoundf("analysis %s not found", owner.String())
	}
	if err != nil {
		return nil, storeError(err)
	}

	v := rec.View()
	s.cacheView(ctx, owner, v)
	return v, nil
}

// cacheView stores a completed view, then re-reads the row. A reset or delete that landed
// between the first read and the Put is caught by the re-read. A later reset invalidates
// the entry itself, and the TTL cap covers retention deletes.
func (s *AnalysisService) cacheView(ctx context.Context, owner model.OwnerKey, v *model.AnalysisView) {
	if !s.cache.Enabled() || v.Status != model.AnalysisStatusCompleted {
		return
	}
	if err := s.cache.Put(ctx, v); err != nil {
		s.logger.WarnContext(ctx, "view cache write failed", "owner", owner.String(), "error", err)
		return
	}
	cur, err := s.repo.GetByKey(ctx, owner)
	if err == nil && cur.Status == v.Status && cur.UpdatedAt.Equal(v.UpdatedAt) {
		return
	}
	s.invalidate(ctx, owner)
}

// Stats returns the number of analyses per status.
func (s *AnalysisService) Stats(ctx context.Context) (*model.AnalysisStats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return st, nil
}

// Shutdown stops accepting submissions, cancels running analyses and waits for them to
// record their terminal state or for ctx to end.
func (s *AnalysisService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight analyses: %w", ctx.Err())
	}
}

// Wait blocks until every in-flight analysis has finished. It does not stop new submissions.
func (s *AnalysisService) Wait() {
	s.inflight.Wait()
}

func (s *AnalysisService) currentState(
	ctx context.Context,
	owner model.OwnerKey,
	fallback *model.AnalysisRecord,
) (*model.SubmitResult, error) {
	rec, err := s.repo.GetByKey(ctx, owner)
	switch {
	case err == nil:
		return notAccepted(rec), nil
	case errors.Is(err, model.ErrAnalysisNotFound) && fallback == nil:
		// The competing submission holds the lease but has not written pending yet.
		return &model.SubmitResult{Status: model.AnalysisStatusPending}, nil
	case errors.Is(err, model.ErrAnalysisNotFound):
		return notAccepted(fallback), nil
	default:
		return nil, storeError(err)
	}
}

func notAccepted(rec *model.AnalysisRecord) *model.SubmitResult {
	return &model.SubmitResult{Accepted: false, Status: rec.Status, View: rec.View()}
}

func (s *AnalysisService) releaseLease(ctx context.Context, lease analysis.Lease) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.registry.Release(rctx, lease); err != nil {
		s.logger.WarnContext(ctx, "release dispatch lease failed", "owner", lease.Owner.String(), "error", err)
	}
}

func (s *AnalysisService) invalidate(ctx context.Context, owner model.OwnerKey) {
	if err := s.cache.Invalidate(ctx, owner); err != nil {
		s.logger.WarnContext(ctx, "view cache invalidation failed", "owner", owner.String(), "error", err)
	}
}

func (s *AnalysisService) emitSubmit(result string, err error) {
	metrics.EmitAnalysisLifecycle(s.metrics, metrics.AnalysisMetric{Transition: "submit", Result: result, Err: err})
}

func (s *AnalysisService) emitTransition(transition, result string, d time.Duration, err error) {
	metrics.EmitAnalysisLifecycle(s.metrics, metrics.AnalysisMetric{
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}

func (s *AnalysisService) emitBranchOutcomes(outcomes []aggregator.Outcome) {
	for _, o := range outcomes {
		metrics.EmitBranchOutcome(s.metrics, metrics.BranchMetric{
			Branch:   o.Branch,
			Outcome:  string(o.Status),
			Duration: o.Duration,
			Items:    o.Items,
			Err:      o.Err,
		})
	}
}

func validateOwner(owner model.OwnerKey) (model.OwnerKey, error) {
	k, err := model.NewOwnerKey(owner.UserID, owner.SessionID)
	if err != nil {
		var oke *model.OwnerKeyError
		if errors.As(err, &oke) {
			return model.OwnerKey{}, apperrors.ValidationField(oke.Field, oke.Error())
		}
		return model.OwnerKey{}, apperrors.Validation(err.Error())
	}
	return k, nil
}

// storeError maps a repository error for callers: recognised database errors keep their
// mapping, everything else is reported as an unavailable store.
func storeError(err error) error {
	mapped := apperrors.MapDBError(err)
	if apperrors.GetCode(mapped) != "" {
		return mapped
	}
	return apperrors.StoreUnavailable(err)
}
