package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/adapters/branchexec"
	"github.com/target/mmk-mentions-api/internal/core"
)

// ExecutorConfig contains configuration for building the branch executor.
type ExecutorConfig struct {
	Branches     config.BranchExecutorConfig
	Orchestrator config.OrchestratorConfig
	Logger       *slog.Logger
}

// ExecutorBundle is the executor plus the branch ids it will be asked to run.
type ExecutorBundle struct {
	Executor core.BranchExecutor
	Branches []string
}

// BuildExecutor loads the branch catalog, resolves the configured branches and builds
// the executor selected by BRANCH_EXECUTOR.
func BuildExecutor(ctx context.Context, cfg ExecutorConfig) (ExecutorBundle, error) {
	catalog := branchexec.DefaultCatalog()
	if cfg.Branches.CatalogFile != "" {
		loaded, err := branchexec.LoadCatalog(cfg.Branches.CatalogFile)
		if err != nil {
			return ExecutorBundle{}, fmt.Errorf("load branch catalog: %w", err)
		}
		catalog = loaded
	}

	branches, err := catalog.Select(cfg.Orchestrator.Branches)
	if err != nil {
		return ExecutorBundle{}, fmt.Errorf("select branches: %w", err)
	}

	var exec core.BranchExecutor
	switch cfg.Branches.Executor {
	case config.ExecutorLLM:
		var limiter *rate.Limiter
		if cfg.Branches.RateLimitRPS > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Branches.RateLimitRPS), cfg.Branches.RateLimitBurst)
		}
		llm, llmErr := branchexec.NewLLMExecutor(branchexec.LLMOptions{
			Config:  cfg.Branches.LLM,
			Catalog: catalog,
			Deps: branchexec.LLMDeps{
				HTTPClient: branchexec.NewProviderHTTPClient(ctx, cfg.Branches),
				Limiter:    limiter,
				Logger:     cfg.Logger,
			},
		})
		if llmErr != nil {
			return ExecutorBundle{}, fmt.Errorf("create llm executor: %w", llmErr)
		}
		exec = llm
	case config.ExecutorStatic, "":
		exec = branchexec.NewStaticExecutor(branchexec.StaticOptions{Fail: cfg.Branches.StaticFail})
	default:
		return ExecutorBundle{}, fmt.Errorf("unsupported branch executor %q", cfg.Branches.Executor)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("branch executor ready", "executor", cfg.Branches.Executor, "branches", branches)
	}
	return ExecutorBundle{Executor: exec, Branches: branches}, nil
}
