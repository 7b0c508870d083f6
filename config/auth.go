package config

import (
	"fmt"
	"strings"
)

// AuthMode represents the authentication mode for the API.
type AuthMode string

const (
	// AuthModeNone disables bearer verification (development and trusted networks only).
	AuthModeNone AuthMode = "none"
	// AuthModeOIDC verifies OIDC ID tokens presented as bearer tokens.
	AuthModeOIDC AuthMode = "oidc"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "none", "oidc":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: none, oidc)", v)
	}
}

// OIDCConfig contains the issuer settings used to verify bearer tokens.
type OIDCConfig struct {
	IssuerURL string `env:"ISSUER_URL"`
	ClientID  string `env:"CLIENT_ID"  envDefault:"mentions"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines whether API requests must carry a verified bearer token.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"none"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"AUTH_OIDC_"`

	// EnforceOwner requires the token subject to match the user_id being accessed.
	EnforceOwner bool `env:"AUTH_ENFORCE_OWNER" envDefault:"true"`
}

// Enabled reports whether bearer verification is configured.
func (a *AuthConfig) Enabled() bool {
	return a.Mode == AuthModeOIDC
}
