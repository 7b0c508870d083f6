package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	"github.com/target/mmk-mentions-api/internal/migrate"
	"github.com/target/mmk-mentions-api/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVICES", "http,reaper")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("ORCHESTRATOR_BRANCHES", "twitter, Reddit")
	t.Setenv("ORCHESTRATOR_BRANCH_TIMEOUT", "30s")
	t.Setenv("ORCHESTRATOR_STALE_RUNNING_AFTER", "10s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, config.StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, []string{"twitter", "reddit"}, cfg.Orchestrator.Branches)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.BranchTimeout)
	assert.Greater(t, cfg.Orchestrator.StaleRunningAfter, cfg.Orchestrator.BranchTimeout,
		"stale threshold must never undercut the branch timeout")
	assert.Equal(t, []string{"http", "reaper"}, GetEnabledServices(&cfg))
}

func TestLoadConfig_InvalidEnum(t *testing.T) {
	t.Setenv("ORCHESTRATOR_FAILED_RETRY", "sometimes")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateServiceConfig(t *testing.T) {
	valid := func() *config.AppConfig {
		return &config.AppConfig{
			Services: "http",
			Auth:     config.AuthConfig{Mode: config.AuthModeNone},
			Branches: config.BranchExecutorConfig{Executor: config.ExecutorStatic},
		}
	}

	require.NoError(t, ValidateServiceConfig(valid()))
	require.Error(t, ValidateServiceConfig(nil))

	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
		want   string
	}{
		{name: "no services", mutate: func(c *config.AppConfig) { c.Services = "" }, want: "invalid service configuration"},
		{name: "unknown service", mutate: func(c *config.AppConfig) { c.Services = "http,scheduler" }, want: "invalid service"},
		{name: "oidc without issuer", mutate: func(c *config.AppConfig) { c.Auth.Mode = config.AuthModeOIDC }, want: "AUTH_OIDC_ISSUER_URL"},
		{name: "llm without credentials", mutate: func(c *config.AppConfig) { c.Branches.Executor = config.ExecutorLLM }, want: "BRANCH_LLM_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateServiceConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildExecutor(t *testing.T) {
	bundle, err := BuildExecutor(context.Background(), ExecutorConfig{
		Branches:     config.BranchExecutorConfig{Executor: config.ExecutorStatic},
		Orchestrator: config.OrchestratorConfig{Branches: []string{"reddit", "news"}},
		Logger:       discardLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit", "news"}, bundle.Branches)
	require.NotNil(t, bundle.Executor)

	all, err := BuildExecutor(context.Background(), ExecutorConfig{
		Branches: config.BranchExecutorConfig{Executor: config.ExecutorStatic},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"twitter", "linkedin", "reddit", "news"}, all.Branches)

	_, err = BuildExecutor(context.Background(), ExecutorConfig{
		Branches:     config.BranchExecutorConfig{Executor: config.ExecutorStatic},
		Orchestrator: config.OrchestratorConfig{Branches: []string{"myspace"}},
	})
	require.Error(t, err)

	_, err = BuildExecutor(context.Background(), ExecutorConfig{
		Branches: config.BranchExecutorConfig{Executor: config.ExecutorStatic, CatalogFile: filepath.Join(t.TempDir(), "missing.yaml")},
	})
	require.Error(t, err)
}

func TestConnectStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mentions.db")
	db, dialect, err := ConnectStore(DatabaseConfig{
		Store:  config.StoreConfig{Driver: config.StoreDriverSQLite, SQLitePath: path},
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, migrate.DialectSQLite, dialect)

	require.NoError(t, RunMigrations(context.Background(), db, dialect, discardLogger()))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(context.Background(), db, dialect, discardLogger()))
}

func TestNewServices_EndToEnd(t *testing.T) {
	db := testutil.SetupSQLiteDB(t)
	cfg := &config.AppConfig{
		Services: "reaper",
		Orchestrator: config.OrchestratorConfig{
			Branches:           []string{"twitter", "news"},
			BranchTimeout:      5 * time.Second,
			FinalWriteAttempts: 2,
			FinalWriteBackoff:  time.Millisecond,
		},
		Branches: config.BranchExecutorConfig{Executor: config.ExecutorStatic, StaticFail: []string{"news"}},
	}

	services, err := NewServices(context.Background(), &ServiceDeps{
		Config:  cfg,
		DB:      db,
		Dialect: migrate.DialectSQLite,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	require.NotNil(t, services.Analyses)
	assert.Nil(t, services.Verifier, "verifier is only built for the http service")
	t.Cleanup(func() { _ = services.Analyses.Shutdown(context.Background()) })

	owner := model.OwnerKey{UserID: "u1", SessionID: "s1"}
	res, err := services.Analyses.Submit(context.Background(), testutil.NewSubmitRequest().Build())
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	require.Eventually(t, func() bool {
		view, statusErr := services.Analyses.Status(context.Background(), owner)
		return statusErr == nil && view.Status == model.AnalysisStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewServices_RedisRegistryRequiresClient(t *testing.T) {
	db := testutil.SetupSQLiteDB(t)
	_, err := NewServices(context.Background(), &ServiceDeps{
		Config: &config.AppConfig{
			Services:     "http",
			Orchestrator: config.OrchestratorConfig{Registry: config.RegistryRedis},
			Branches:     config.BranchExecutorConfig{Executor: config.ExecutorStatic},
		},
		DB:      db,
		Dialect: migrate.DialectSQLite,
		Logger:  discardLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestBuildRouterServices_LeavesOptionalInterfacesNil(t *testing.T) {
	appCfg := &config.AppConfig{HTTP: config.HTTPConfig{MaxBodyBytes: 2048}}
	services := buildRouterServices(&HTTPServerConfig{}, appCfg, discardLogger())

	assert.Nil(t, services.Verifier)
	assert.Nil(t, services.Ready)
	assert.Nil(t, services.RateLimiter)
	assert.Equal(t, int64(2048), services.MaxBodyBytes)
}

func TestGracefulStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)

	cancel()
	err := gracefulStop(shutdownConfig{
		ctx:         ctx,
		cancel:      cancel,
		logger:      discardLogger(),
		backgrounds: []backgroundServiceHandle{{name: "reaper", mode: config.ServiceModeReaper, done: done}},
	})
	require.NoError(t, err)
}
