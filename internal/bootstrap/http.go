package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/mmk-mentions-api/config"
	httpx "github.com/target/mmk-mentions-api/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
	// ErrCh receives a listen failure so the service orchestrator can stop.
	ErrCh chan<- error
}

// HTTPServer is the running API server plus the resources it owns.
type HTTPServer struct {
	server  *http.Server
	limiter *httpx.RateLimiter
	logger  *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *HTTPServer {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := buildRouterServices(cfg, appCfg, logger)
	srv := &HTTPServer{
		server:  newServer(services, appCfg.HTTP.Addr),
		limiter: services.RateLimiter,
		logger:  logger,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.server.Addr)
		if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			if cfg.ErrCh != nil {
				select {
				case cfg.ErrCh <- fmt.Errorf("http server: %w", err):
				default:
				}
			}
		}
	}()

	return srv
}

func buildRouterServices(cfg *HTTPServerConfig, appCfg *config.AppConfig, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		Analyses:     cfg.Services.Analyses,
		EnforceOwner: appCfg.Auth.EnforceOwner,
		MaxBodyBytes: appCfg.HTTP.MaxBodyBytes,
		Logger:       logger,
	}
	// Assign only non-nil values so the interfaces stay nil when unset.
	if cfg.Services.Verifier != nil {
		services.Verifier = cfg.Services.Verifier
	}
	if cfg.DB != nil {
		services.Ready = cfg.DB.PingContext
	}
	if appCfg.HTTP.RateLimitEnabled() {
		logger.Info("HTTP rate limiting enabled", "rps", appCfg.HTTP.RateLimitRPS, "burst", appCfg.HTTP.RateLimitBurst)
		services.RateLimiter = httpx.NewRateLimiter(appCfg.HTTP.RateLimitRPS, appCfg.HTTP.RateLimitBurst)
	}
	return services
}

func newServer(services httpx.RouterServices, addr string) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           httpx.NewRouter(services),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")

	err := s.server.Shutdown(ctx)
	if s.limiter != nil {
		s.limiter.Close()
	}
	if err != nil {
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler exposes the server's handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Handler
}
