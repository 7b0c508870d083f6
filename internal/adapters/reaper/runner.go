// Package reaper provides adapters for running the analysis retention loop.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/data"
	"github.com/target/mmk-mentions-api/internal/migrate"
	"github.com/target/mmk-mentions-api/internal/observability/statsd"
	"github.com/target/mmk-mentions-api/internal/service"
)

// Runner provides a simple adapter to run the retention loop.
// It constructs the retention service and runs the sweep loop.
type Runner struct {
	retention *service.RetentionService
	logger    *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB           *sql.DB
	Dialect      migrate.Dialect
	Config       config.ReaperConfig
	Orchestrator config.OrchestratorConfig
	Logger       *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo        core.AnalysisRepository
	Resubmitter service.Resubmitter
	Metrics     statsd.Sink
}

// NewRunner creates a new retention runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	retention, err := wireRetentionService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire retention service: %w", err)
	}

	return &Runner{retention: retention, logger: opts.Logger}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	// Without an orchestrator in this process there is nothing to resubmit to.
	if opts.Orchestrator.FailedRetry == config.FailedRetryAuto && opts.Resubmitter == nil {
		opts.Logger.Warn("automatic retry disabled: no analysis service in this process")
		opts.Orchestrator.FailedRetry = config.FailedRetryManual
	}
	return nil
}

// wireRetentionService wires up all dependencies for the retention service.
func wireRetentionService(opts RunnerOptions) (*service.RetentionService, error) {
	repo := opts.Repo
	if repo == nil {
		repo = data.NewAnalysisRepo(opts.DB, data.RepoConfig{Dialect: opts.Dialect, Logger: opts.Logger})
	}

	return service.NewRetentionService(service.RetentionServiceOptions{
		Repo:         repo,
		Config:       opts.Config,
		Orchestrator: opts.Orchestrator,
		Resubmitter:  opts.Resubmitter,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
	})
}

// Run starts the retention loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting retention runner")
	return r.retention.Run(ctx)
}

// RunOnce performs a single sweep.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.retention.RunOnce(ctx)
}
