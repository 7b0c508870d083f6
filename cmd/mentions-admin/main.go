package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
	defaultAnalyzeTimeout   = 10 * time.Minute
	defaultSweepDays        = 7
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations for the configured store",
			run:         runMigrations,
		},
		"analyze": {
			name:        "analyze",
			description: "Run one brand analysis in-process and print the result",
			run:         runAnalyze,
		},
		"status": {
			name:        "status",
			description: "Show the stored analysis for an owner key",
			run:         runStatus,
		},
		"stats": {
			name:        "stats",
			description: "Count stored analyses by status",
			run:         runStats,
		},
		"sweep": {
			name:        "sweep",
			description: "Delete completed and failed analyses older than --days",
			run:         runSweep,
		},
		"seed": {
			name:        "seed",
			description: "Run migrations and seed one development analysis per status",
			run:         runSeed,
		},
		"reap": {
			name:        "reap",
			description: "Run one full retention pass (stale reclaim, retry, deletion)",
			run:         runReap,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: mentions-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cmds[name]
		if err := writef(w, "  %-12s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type ownerOptions struct {
	UserID    string
	SessionID string
	JSON      bool
	Timeout   time.Duration
}

type analyzeOptions struct {
	UserID    string
	SessionID string
	Brand     string
	Category  string
	Location  string
	Force     bool
	JSON      bool
	Timeout   time.Duration
}

type sweepOptions struct {
	Days    int
	Timeout time.Duration
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := newFlagSet("migrate")

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseOwnerFlags(name string, args []string) (ownerOptions, error) {
	fs := newFlagSet(name)

	var opts ownerOptions
	fs.StringVar(&opts.UserID, "user", "", "Owner user id (required)")
	fs.StringVar(&opts.SessionID, "session", "", "Owner session id (required)")
	fs.BoolVar(&opts.JSON, "json", false, "Print the analysis as JSON")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the lookup")

	if err := fs.Parse(args); err != nil {
		return ownerOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	opts.SessionID = strings.TrimSpace(opts.SessionID)
	if opts.UserID == "" || opts.SessionID == "" {
		return ownerOptions{}, errors.New("--user and --session are required")
	}
	if opts.Timeout <= 0 {
		return ownerOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseAnalyzeFlags(args []string) (analyzeOptions, error) {
	fs := newFlagSet("analyze")

	var opts analyzeOptions
	fs.StringVar(&opts.UserID, "user", "", "Owner user id (required)")
	fs.StringVar(&opts.SessionID, "session", "", "Owner session id (required)")
	fs.StringVar(&opts.Brand, "brand", "", "Brand name to analyze (required)")
	fs.StringVar(&opts.Category, "category", "", "Optional brand category")
	fs.StringVar(&opts.Location, "location", "", "Optional location filter")
	fs.BoolVar(&opts.Force, "force", false, "Re-run even if a completed analysis exists")
	fs.BoolVar(&opts.JSON, "json", false, "Print the analysis as JSON")
	fs.DurationVar(&opts.Timeout, "timeout", defaultAnalyzeTimeout, "Maximum duration to wait for a terminal status")

	if err := fs.Parse(args); err != nil {
		return analyzeOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	opts.SessionID = strings.TrimSpace(opts.SessionID)
	opts.Brand = strings.TrimSpace(opts.Brand)
	if opts.UserID == "" || opts.SessionID == "" {
		return analyzeOptions{}, errors.New("--user and --session are required")
	}
	if opts.Brand == "" {
		return analyzeOptions{}, errors.New("--brand is required")
	}
	if opts.Timeout <= 0 {
		return analyzeOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseSweepFlags(args []string) (sweepOptions, error) {
	fs := newFlagSet("sweep")

	opts := sweepOptions{Days: defaultSweepDays, Timeout: defaultMigrationTimeout}
	fs.IntVar(&opts.Days, "days", defaultSweepDays, "Delete terminal analyses not updated for this many days")
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration for the sweep")

	if err := fs.Parse(args); err != nil {
		return sweepOptions{}, err
	}
	if opts.Days <= 0 {
		return sweepOptions{}, errors.New("--days must be greater than zero")
	}
	if opts.Timeout <= 0 {
		return sweepOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseTimeoutFlag(name string, args []string) (time.Duration, error) {
	fs := newFlagSet(name)
	timeout := fs.Duration("timeout", defaultCommandTimeout, "Maximum duration for the command")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *timeout <= 0 {
		return 0, errors.New("--timeout must be greater than zero")
	}
	return *timeout, nil
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
