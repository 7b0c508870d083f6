package oidc

// Package oidc verifies OIDC ID tokens presented as bearer tokens to the mentions API.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/target/mmk-mentions-api/internal/domain/auth"
)

// ErrMissingSubject is returned when a verified token carries no usable user id.
var ErrMissingSubject = errors.New("token has no subject")

// Verifier validates bearer ID tokens against an OIDC issuer.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// VerifierConfig holds configuration for the OIDC verifier.
type VerifierConfig struct {
	IssuerURL  string
	ClientID   string
	HTTPClient *http.Client // Optional, defaults to a client with a 30s timeout
}

// NewVerifier discovers the issuer and builds a verifier for its signing keys.
func NewVerifier(ctx context.Context, config VerifierConfig) (*Verifier, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	// Single discovery fetch; the key set is refreshed lazily by go-oidc.
	ctx = gooidc.ClientContext(context.WithValue(ctx, oauth2.HTTPClient, httpClient), httpClient)
	issuer := strings.TrimSuffix(config.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	return &Verifier{verifier: op.Verifier(&gooidc.Config{ClientID: config.ClientID})}, nil
}

// NewVerifierWithKeySet builds a verifier for issuer without discovery.
func NewVerifierWithKeySet(issuer, clientID string, keySet gooidc.KeySet) *Verifier {
	return &Verifier{verifier: gooidc.NewVerifier(issuer, keySet, &gooidc.Config{ClientID: clientID})}
}

// Verify checks the signature, issuer, audience and expiry of rawToken and maps its claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (domainauth.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domainauth.Identity{}, errors.New("token is required")
	}

	idTok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return domainauth.Identity{}, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}

	id := mapIDTokenClaims(claims)
	if id.UserID == "" {
		id.UserID = idTok.Subject
	}
	if id.UserID == "" {
		return domainauth.Identity{}, ErrMissingSubject
	}
	id.ExpiresAt = idTok.Expiry
	return id, nil
}

// idTokenClaims represents a superset of OIDC and AD/ADFS claim shapes.
type idTokenClaims struct {
	Sub               string   `json:"sub"`
	SamAccountName    string   `json:"samaccountname"`
	PreferredUsername string   `json:"preferred_username"`
	Mail              string   `json:"mail"`
	Email             string   `json:"email"`
	MemberOf          []string `json:"memberof"`
	Groups            []string `json:"groups"`
}

// mapIDTokenClaims maps raw claims into an Identity using precedence rules.
func mapIDTokenClaims(c idTokenClaims) domainauth.Identity {
	groups := c.MemberOf
	if len(groups) == 0 {
		groups = c.Groups
	}
	return domainauth.Identity{
		UserID: firstNonEmpty(c.SamAccountName, c.PreferredUsername, c.Sub),
		Email:  firstNonEmpty(c.Mail, c.Email),
		Groups: groups,
	}
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
