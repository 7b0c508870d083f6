package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-mentions-api/internal/bootstrap"
	"github.com/target/mmk-mentions-api/internal/migrate"
)

type connectInfraOptions struct {
	WantRedis bool
}

type infra struct {
	DB      *sql.DB
	Dialect migrate.Dialect
	Redis   redis.UniversalClient
}

func (i *infra) Close() error {
	if i == nil {
		return nil
	}
	return bootstrap.CloseInfra(i.DB, i.Redis)
}

// connectInfra opens the configured store and, when requested, Redis.
func connectInfra(cmdCtx *commandContext, opts connectInfraOptions) (*infra, error) {
	dbCfg := bootstrap.DatabaseConfig{
		Store:       cmdCtx.Config.Store,
		DBConfig:    cmdCtx.Config.Postgres,
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	}
	db, dialect, err := bootstrap.ConnectStore(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	out := &infra{DB: db, Dialect: dialect}

	if !opts.WantRedis {
		return out, nil
	}

	client, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	out.Redis = client
	return out, nil
}

// withStore runs f against the configured store under a signal-aware timeout.
func withStore(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *infra) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := connectInfra(cmdCtx, connectInfraOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", cerr)
		}
	}()

	return f(ctx, conn)
}
