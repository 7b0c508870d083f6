package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/bootstrap"
	"github.com/target/mmk-mentions-api/internal/data"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	"github.com/target/mmk-mentions-api/internal/migrate"
	"github.com/target/mmk-mentions-api/internal/service"
)

const statusPollInterval = 500 * time.Millisecond

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withStore(cmdCtx, opts.Timeout, func(ctx context.Context, conn *infra) error {
		cmdCtx.Logger.Info("running database migrations", "dialect", conn.Dialect)
		if migrateErr := bootstrap.RunMigrations(ctx, conn.DB, conn.Dialect, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseOwnerFlags("status", args)
	if err != nil {
		return err
	}
	owner, err := model.NewOwnerKey(opts.UserID, opts.SessionID)
	if err != nil {
		return err
	}

	return withStore(cmdCtx, opts.Timeout, func(ctx context.Context, conn *infra) error {
		repo := data.NewAnalysisRepo(conn.DB, data.RepoConfig{Dialect: conn.Dialect, Logger: cmdCtx.Logger})
		rec, getErr := repo.GetByKey(ctx, owner)
		if errors.Is(getErr, model.ErrAnalysisNotFound) {
			return writef(cmdCtx.Out, "No analysis found for %s\n", owner)
		}
		if getErr != nil {
			return getErr
		}
		return printAnalysisView(cmdCtx.Out, rec.View(), opts.JSON)
	})
}

func runStats(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlag("stats", args)
	if err != nil {
		return err
	}

	return withStore(cmdCtx, timeout, func(ctx context.Context, conn *infra) error {
		repo := data.NewAnalysisRepo(conn.DB, data.RepoConfig{Dialect: conn.Dialect, Logger: cmdCtx.Logger})
		stats, statsErr := repo.Stats(ctx)
		if statsErr != nil {
			return statsErr
		}
		return printStats(cmdCtx.Out, stats)
	})
}

func runSweep(cmdCtx *commandContext, args []string) error {
	opts, err := parseSweepFlags(args)
	if err != nil {
		return err
	}
	maxAge := time.Duration(opts.Days) * 24 * time.Hour

	return withStore(cmdCtx, opts.Timeout, func(ctx context.Context, conn *infra) error {
		retention, svcErr := newRetention(cmdCtx, conn)
		if svcErr != nil {
			return svcErr
		}
		n, sweepErr := retention.SweepOlderThan(ctx, maxAge)
		if sweepErr != nil {
			return sweepErr
		}
		return writef(cmdCtx.Out, "Deleted %d analyses older than %d days\n", n, opts.Days)
	})
}

func runReap(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlag("reap", args)
	if err != nil {
		return err
	}

	return withStore(cmdCtx, timeout, func(ctx context.Context, conn *infra) error {
		retention, svcErr := newRetention(cmdCtx, conn)
		if svcErr != nil {
			return svcErr
		}
		if runErr := retention.RunOnce(ctx); runErr != nil {
			return runErr
		}
		return writeln(cmdCtx.Out, "Retention pass completed")
	})
}

// newRetention builds a retention service for a one-shot pass. Nothing in this process
// executes analyses, so automatic retry is left to the running service.
func newRetention(cmdCtx *commandContext, conn *infra) (*service.RetentionService, error) {
	orch := cmdCtx.Config.Orchestrator
	if orch.FailedRetry == config.FailedRetryAuto {
		cmdCtx.Logger.Info("automatic retry skipped in admin pass")
		orch.FailedRetry = config.FailedRetryManual
	}
	return service.NewRetentionService(service.RetentionServiceOptions{
		Repo:         data.NewAnalysisRepo(conn.DB, data.RepoConfig{Dialect: conn.Dialect, Logger: cmdCtx.Logger}),
		Config:       cmdCtx.Config.Reaper,
		Orchestrator: orch,
		Logger:       cmdCtx.Logger,
	})
}

func runAnalyze(cmdCtx *commandContext, args []string) error {
	opts, err := parseAnalyzeFlags(args)
	if err != nil {
		return err
	}
	owner, err := model.NewOwnerKey(opts.UserID, opts.SessionID)
	if err != nil {
		return err
	}
	query, err := model.BrandQuery{BrandName: opts.Brand, Category: opts.Category, Location: opts.Location}.Encode()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cfg := cmdCtx.Config
	// No HTTP surface here, so no token verifier either.
	cfg.Services = string(config.ServiceModeReaper)

	conn, err := connectInfra(cmdCtx, connectInfraOptions{WantRedis: cfg.UsesRedis()})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", cerr)
		}
	}()

	if conn.Dialect == migrate.DialectSQLite {
		if migrateErr := bootstrap.RunMigrations(ctx, conn.DB, conn.Dialect, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          conn.DB,
		Dialect:     conn.Dialect,
		RedisClient: conn.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCommandTimeout)
		defer shutdownCancel()
		if shutdownErr := services.Analyses.Shutdown(shutdownCtx); shutdownErr != nil {
			cmdCtx.Logger.Warn("analysis service shutdown failed", "error", shutdownErr)
		}
	}()

	res, err := services.Analyses.Submit(ctx, model.SubmitRequest{Owner: owner, Query: query, Force: opts.Force})
	if err != nil {
		return fmt.Errorf("submit analysis: %w", err)
	}
	if inProgress := service.InProgress(res); inProgress != nil {
		cmdCtx.Logger.Info("analysis already running elsewhere; waiting for it", "owner", owner.String())
	}

	view, err := waitForTerminal(ctx, services.Analyses, owner, statusPollInterval)
	if err != nil {
		return err
	}
	return printAnalysisView(cmdCtx.Out, view, opts.JSON)
}

type statusReader interface {
	Status(ctx context.Context, owner model.OwnerKey) (*model.AnalysisView, error)
}

// waitForTerminal polls until the analysis reaches completed or failed.
func waitForTerminal(
	ctx context.Context,
	reader statusReader,
	owner model.OwnerKey,
	interval time.Duration,
) (*model.AnalysisView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := reader.Status(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("read status: %w", err)
		}
		if view.Status.Terminal() {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, fmt.Errorf("waiting for %s (last status %s): %w", owner, view.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printAnalysisView(w io.Writer, view *model.AnalysisView, asJSON bool) error {
	if view == nil {
		return errors.New("no analysis to print")
	}
	if asJSON {
		b, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("encode analysis: %w", err)
		}
		return writeln(w, string(b))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Owner", view.UserID + "/" + view.SessionID},
		{"Status", string(view.Status)},
		{"Query", view.Query},
		{"Created", view.CreatedAt.Format(time.RFC3339)},
		{"Updated", view.UpdatedAt.Format(time.RFC3339)},
	}
	if view.StartedAt != nil {
		rows = append(rows, [2]string{"Started", view.StartedAt.Format(time.RFC3339)})
	}
	if view.ErrorMessage != nil {
		rows = append(rows, [2]string{"Error", *view.ErrorMessage})
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("write analysis row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush analysis table: %w", err)
	}

	if len(view.Results) == 0 {
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, view.Results, "  ", "  "); err != nil {
		return fmt.Errorf("format results: %w", err)
	}
	if err := write(w, "Results:\n  "); err != nil {
		return err
	}
	return writeln(w, pretty.String())
}

func printStats(w io.Writer, stats *model.AnalysisStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "STATUS\tCOUNT"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	rows := []struct {
		status model.AnalysisStatus
		count  int
	}{
		{model.AnalysisStatusPending, stats.Pending},
		{model.AnalysisStatusRunning, stats.Running},
		{model.AnalysisStatusCompleted, stats.Completed},
		{model.AnalysisStatusFailed, stats.Failed},
	}
	for _, row := range rows {
		if err := writef(tw, "%s\t%d\n", row.status, row.count); err != nil {
			return fmt.Errorf("write stats row: %w", err)
		}
	}
	if err := writef(tw, "total\t%d\n", stats.Total()); err != nil {
		return fmt.Errorf("write stats total: %w", err)
	}
	return tw.Flush()
}
