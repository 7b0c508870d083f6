package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/bootstrap"
	"github.com/target/mmk-mentions-api/internal/data"
	"github.com/target/mmk-mentions-api/internal/devseed"
)

type seedOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

func parseSeedFlags(args []string) (seedOptions, error) {
	fs := newFlagSet("seed")

	opts := seedOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration for migrations and seeding")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow seeding a database host that does not look local")

	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}
	if opts.Timeout <= 0 {
		return seedOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}
	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote); guardErr != nil {
		return guardErr
	}

	return withStore(cmdCtx, opts.Timeout, func(ctx context.Context, conn *infra) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, conn.DB, conn.Dialect, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}

		repo := data.NewAnalysisRepo(conn.DB, data.RepoConfig{Dialect: conn.Dialect, Logger: cmdCtx.Logger})
		if seedErr := devseed.Run(ctx, repo, cmdCtx.Logger); seedErr != nil {
			return fmt.Errorf("seed data: %w", seedErr)
		}
		return writef(cmdCtx.Out, "Seeded development analyses for user %q\n", devseed.SeedUserID)
	})
}

// guardRemoteHost refuses to seed a Postgres host that does not look local unless
// --allow-remote is set. SQLite files are always local.
func guardRemoteHost(cmdCtx *commandContext, allow bool) error {
	if cmdCtx.Config.Store.Driver == config.StoreDriverSQLite || allow {
		return nil
	}
	host := cmdCtx.Config.Postgres.Host
	if !isLikelyRemoteHost(host) {
		return nil
	}
	return fmt.Errorf(
		"refusing to seed potentially remote database host %q; re-run with --allow-remote if this is intentional",
		host,
	)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}
