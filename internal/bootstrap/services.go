package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/adapters/oidc"
	"github.com/target/mmk-mentions-api/internal/adapters/reaper"
	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/data"
	"github.com/target/mmk-mentions-api/internal/migrate"
	"github.com/target/mmk-mentions-api/internal/observability/statsd"
	"github.com/target/mmk-mentions-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Analyses      *service.AnalysisService
	Repo          *data.AnalysisRepo
	Verifier      *oidc.Verifier
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	Dialect     migrate.Dialect
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink. A failed dial disables metrics
// rather than blocking startup.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// metricsSink converts a possibly nil client into a nil interface so callers can
// test for "no metrics" with a plain nil check.
//
//nolint:ireturn // callers take statsd.Sink
func (o ObservabilityContainer) metricsSink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// newRegistry selects the dispatch registry. Redis leases let several API replicas
// share one owner-key namespace.
//
//nolint:ireturn // the registry implementation is chosen at runtime
func newRegistry(cfg config.OrchestratorConfig, client redis.UniversalClient, logger *slog.Logger) (core.DispatchRegistry, error) {
	switch cfg.Registry {
	case config.RegistryRedis:
		if client == nil {
			return nil, errors.New("ORCHESTRATOR_REGISTRY=redis requires a redis connection")
		}
		logger.Info("using redis dispatch registry", "ttl", cfg.RegistryTTL)
		return data.NewRedisDispatchRegistry(client, cfg.RegistryTTL), nil
	default:
		return nil, nil //nolint:nilnil // nil selects the in-process registry
	}
}

func newViewCache(
	cfg config.CacheConfig,
	retention time.Duration,
	client redis.UniversalClient,
	logger *slog.Logger,
) *core.ViewCacheService {
	if !cfg.Enabled {
		return nil
	}
	if client == nil {
		logger.Warn("view cache disabled: redis client not configured")
		return nil
	}
	return core.NewViewCacheService(core.ViewCacheServiceOptions{
		Cache:  data.NewRedisCacheRepo(client),
		Config: core.ViewCacheConfig{TTL: cfg.ViewTTL, MaxAge: retention},
	})
}

// NewServices wires the repository, executor, registry, cache and metrics into the
// analysis service.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("service deps require config and database")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)
	repo := data.NewAnalysisRepo(deps.DB, data.RepoConfig{Dialect: deps.Dialect, Logger: logger})

	bundle, err := BuildExecutor(ctx, ExecutorConfig{
		Branches:     cfg.Branches,
		Orchestrator: cfg.Orchestrator,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	registry, err := newRegistry(cfg.Orchestrator, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	orchestrator := cfg.Orchestrator
	orchestrator.Branches = bundle.Branches
	analyses, err := service.NewAnalysisService(service.AnalysisServiceOptions{
		Repo:     repo,
		Executor: bundle.Executor,
		Config:   orchestrator,
		Deps: service.AnalysisServiceDeps{
			Registry: registry,
			Cache:    newViewCache(cfg.Cache, cfg.Reaper.CompletedMaxAge, deps.RedisClient, logger),
			Logger:   logger,
			Metrics:  observability.metricsSink(),
		},
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create analysis service: %w", err)
	}

	var verifier *oidc.Verifier
	if cfg.IsHTTPServerEnabled() {
		verifier, err = BuildVerifier(ctx, AuthConfig{Auth: cfg.Auth, Logger: logger})
		if err != nil {
			return ServiceContainer{}, err
		}
	}

	return ServiceContainer{
		Analyses:      analyses,
		Repo:          repo,
		Verifier:      verifier,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains dependencies for running the enabled services.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	Dialect     migrate.Dialect
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *HTTPServer {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		DB:       deps.cfg.DB,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunReaper(ctx, ReaperConfig{
				DB:           deps.cfg.DB,
				Dialect:      deps.cfg.Dialect,
				Repo:         deps.cfg.Services.Repo,
				Logger:       deps.logger,
				Config:       deps.cfg.Config.Reaper,
				Orchestrator: deps.cfg.Config.Orchestrator,
				Resubmitter:  resubmitterFor(deps.cfg.Services.Analyses),
				Metrics:      deps.cfg.Services.Observability.metricsSink(),
			})
		},
	}
}

// resubmitterFor avoids handing the runner a typed nil.
//
//nolint:ireturn // the runner takes the narrow interface
func resubmitterFor(svc *service.AnalysisService) service.Resubmitter {
	if svc == nil {
		return nil
	}
	return svc
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReaperBackgroundService(deps),
	}
}

// ReaperConfig contains configuration for the retention runner.
type ReaperConfig struct {
	DB           *sql.DB
	Dialect      migrate.Dialect
	Repo         *data.AnalysisRepo
	Logger       *slog.Logger
	Config       config.ReaperConfig
	Orchestrator config.OrchestratorConfig
	Resubmitter  service.Resubmitter
	Metrics      statsd.Sink
}

// RunReaper starts the retention loop.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	opts := reaper.RunnerOptions{
		DB:           cfg.DB,
		Dialect:      cfg.Dialect,
		Config:       cfg.Config,
		Orchestrator: cfg.Orchestrator,
		Logger:       cfg.Logger,
		Resubmitter:  cfg.Resubmitter,
		Metrics:      cfg.Metrics,
	}
	if cfg.Repo != nil {
		opts.Repo = cfg.Repo
	}
	runner, err := reaper.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *HTTPServer
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		quit:        quit,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		analyses:    cfg.Services.Analyses,
		metrics:     cfg.Services.Observability.MetricsSink,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	quit        <-chan os.Signal
	errCh       <-chan error
	httpServer  *HTTPServer
	analyses    *service.AnalysisService
	metrics     *statsd.Client
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops intake first, then background loops, then in-flight analyses.
func gracefulStop(cfg shutdownConfig) error {
	// cfg.ctx is already canceled; shutdown gets its own budget.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), shutdownWaitTimeout)
	defer cancel()

	var errs []error
	if cfg.httpServer != nil {
		if err := cfg.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.analyses != nil {
		cfg.logger.Info("waiting for in-flight analyses")
		if err := cfg.analyses.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown analysis service: %w", err))
		}
	}

	if cfg.metrics != nil {
		if err := cfg.metrics.Close(); err != nil {
			cfg.logger.Warn("close statsd client", "error", err)
		}
	}

	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}

// CloseInfra closes the shared connections opened by the entrypoints.
func CloseInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var errs []error
	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
