package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/adapters/oidc"
)

// AuthConfig contains configuration for bearer verification.
type AuthConfig struct {
	Auth   config.AuthConfig
	Logger *slog.Logger
}

// BuildVerifier creates the bearer token verifier for the configured auth mode.
// It returns nil when authentication is disabled.
func BuildVerifier(ctx context.Context, cfg AuthConfig) (*oidc.Verifier, error) {
	if !cfg.Auth.Enabled() {
		if cfg.Logger != nil {
			cfg.Logger.Warn("API authentication disabled", "mode", cfg.Auth.Mode)
		}
		return nil, nil //nolint:nilnil // nil verifier means auth is off
	}

	verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
		IssuerURL: cfg.Auth.OIDC.IssuerURL,
		ClientID:  cfg.Auth.OIDC.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("build oidc verifier: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("API bearer authentication enabled",
			"issuer", cfg.Auth.OIDC.IssuerURL,
			"enforce_owner", cfg.Auth.EnforceOwner,
		)
	}
	return verifier, nil
}
