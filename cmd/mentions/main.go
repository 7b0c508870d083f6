package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/bootstrap"
	"github.com/target/mmk-mentions-api/internal/migrate"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)

	cfgPtr := &cfg

	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	db, dialect, redisClient, err := initInfrastructure(ctx, cfgPtr, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bootstrap.CloseInfra(db, redisClient); cerr != nil {
			logger.ErrorContext(ctx, "close infrastructure failed", "error", cerr)
		}
	}()

	// The embedded SQLite store has no separate migration step.
	if cfg.Postgres.RunMigrationsOnStart || dialect == migrate.DialectSQLite {
		if err = bootstrap.RunMigrations(ctx, db, dialect, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      cfgPtr,
		DB:          db,
		Dialect:     dialect,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      cfgPtr,
		Services:    services,
		DB:          db,
		Dialect:     dialect,
		RedisClient: redisClient,
		Logger:      logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	attrs := []any{
		"store", cfg.Store.Driver,
		"executor", cfg.Branches.Executor,
		"branches", cfg.Orchestrator.Branches,
		"registry", cfg.Orchestrator.Registry,
		"enabled_services", bootstrap.GetEnabledServices(cfg),
	}
	if cfg.Store.Driver == config.StoreDriverSQLite {
		attrs = append(attrs, "sqlite_path", cfg.Store.SQLitePath)
	} else {
		attrs = append(attrs, "db_host", cfg.Postgres.Host, "db_port", cfg.Postgres.Port, "db_name", cfg.Postgres.Name)
	}
	logger.InfoContext(ctx, "starting mentions service", attrs...)
}

// initInfrastructure connects the store and, when a component needs it, Redis.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*sql.DB, migrate.Dialect, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		Store:       cfg.Store,
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	}
	db, dialect, err := bootstrap.ConnectStore(dbCfg)
	if err != nil {
		return nil, "", nil, fmt.Errorf("connect store: %w", err)
	}

	if !cfg.UsesRedis() {
		return db, dialect, nil, nil
	}

	redisClient, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database after redis connect failure", "error", cerr)
			return nil, "", nil, fmt.Errorf("connect redis: %w", errors.Join(err, fmt.Errorf("close database: %w", cerr)))
		}
		return nil, "", nil, fmt.Errorf("connect redis: %w", err)
	}

	return db, dialect, redisClient, nil
}
