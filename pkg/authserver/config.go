// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/idp"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/ciba"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/device"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/keys"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/session"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
)

// Config is the full server configuration. Zero values select sane
// defaults everywhere except Issuer, which is required.
type Config struct {
	// Issuer is this server's issuer identifier: an absolute https URL
	// without query or fragment (OIDC Core §2).
	Issuer string `mapstructure:"issuer"`

	// RequirePAR rejects authorization requests that were not pushed
	// (RFC 9126 §5).
	RequirePAR bool `mapstructure:"require_par"`

	// PairwiseSalt feeds pairwise subject derivation. Required when any
	// client registers subject_type=pairwise.
	PairwiseSalt string `mapstructure:"pairwise_salt"`

	// Tokens tunes token lifetimes.
	Tokens TokenConfig `mapstructure:"tokens"`

	// CodeTTL bounds authorization code validity; default one minute.
	CodeTTL time.Duration `mapstructure:"code_ttl"`

	// PARTTL bounds pushed request_uri validity; default 90 seconds.
	PARTTL time.Duration `mapstructure:"par_ttl"`

	Keys    keys.Config   `mapstructure:"keys"`
	Storage StorageConfig `mapstructure:"storage"`

	// Scopes and Resources define what the server is willing to grant.
	// An empty scope list defaults to openid, profile, email and
	// offline_access.
	Scopes    []ScopeConfig    `mapstructure:"scopes"`
	Resources []ResourceConfig `mapstructure:"resources"`

	// Clients is the statically configured client set. Dynamically
	// registered clients live in storage alongside them.
	Clients []*client.Client `mapstructure:"clients"`

	// RouteOverrides remaps endpoint paths by route key.
	RouteOverrides map[string]string `mapstructure:"route_overrides"`

	// DisabledEndpoints lists route keys that are not served.
	DisabledEndpoints []string `mapstructure:"disabled_endpoints"`

	Registration RegistrationConfig `mapstructure:"registration"`
	Device       device.Config      `mapstructure:"device"`
	CIBA         ciba.Config        `mapstructure:"ciba"`
	Session      session.Config     `mapstructure:"session"`
	Logout       LogoutConfig       `mapstructure:"logout"`

	// Upstream enables the password grant by delegating credential
	// checks to an upstream OIDC provider. Nil disables the grant.
	Upstream *idp.Config `mapstructure:"upstream"`

	// TrustedIssuers enables the JWT bearer grant for assertions from
	// the listed external issuers. Empty disables the grant.
	TrustedIssuers []TrustedIssuerConfig `mapstructure:"trusted_issuers"`

	MTLS MTLSConfig `mapstructure:"mtls"`

	// ACRValues advertises the supported authentication context class
	// references; the host's authorizer is what actually enforces them.
	ACRValues []string `mapstructure:"acr_values"`
}

// TokenConfig tunes token lifetimes. Zero values select one hour for
// access and ID tokens and thirty days for refresh tokens.
type TokenConfig struct {
	AccessTokenLifetime  time.Duration `mapstructure:"access_token_lifetime"`
	RefreshTokenLifetime time.Duration `mapstructure:"refresh_token_lifetime"`
	IDTokenLifetime      time.Duration `mapstructure:"id_token_lifetime"`
}

// ScopeConfig defines a grantable scope.
type ScopeConfig struct {
	Name          string   `mapstructure:"name"`
	Claims        []string `mapstructure:"claims"`
	ResourceBound bool     `mapstructure:"resource_bound"`
	Description   string   `mapstructure:"description"`
}

// ResourceConfig defines a protected resource (RFC 8707).
type ResourceConfig struct {
	URI         string   `mapstructure:"uri"`
	Scopes      []string `mapstructure:"scopes"`
	TokenFormat string   `mapstructure:"token_format"`
}

// RegistrationConfig tunes dynamic client registration. Registration is
// served unless its route key is listed in DisabledEndpoints.
type RegistrationConfig struct {
	// SecretLifetime bounds generated client secrets; zero means
	// non-expiring.
	SecretLifetime time.Duration `mapstructure:"secret_lifetime"`
}

// LogoutConfig tunes back-channel logout delivery.
type LogoutConfig struct {
	Parallelism   int           `mapstructure:"parallelism"`
	TargetTimeout time.Duration `mapstructure:"target_timeout"`
}

// TrustedIssuerConfig names an external issuer for the JWT bearer grant.
type TrustedIssuerConfig struct {
	Issuer  string `mapstructure:"issuer"`
	JWKSURI string `mapstructure:"jwks_uri"`
}

// MTLSConfig configures RFC 8705 support.
type MTLSConfig struct {
	// BaseURI, when set, publishes mtls_endpoint_aliases derived from it
	// for the endpoints that authenticate clients.
	BaseURI string `mapstructure:"base_uri"`

	// CertificateBoundTokens binds issued access tokens to the client
	// certificate via the cnf claim.
	CertificateBoundTokens bool `mapstructure:"certificate_bound_tokens"`
}

// defaultScopes is the scope set served when none are configured.
func defaultScopes() []ScopeConfig {
	return []ScopeConfig{
		{Name: "openid"},
		{Name: "profile", Claims: []string{"name", "given_name", "family_name", "preferred_username", "picture"}},
		{Name: "email", Claims: []string{"email", "email_verified"}},
		{Name: "offline_access"},
	}
}

// Validate checks the configuration for problems that would only surface
// at request time.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Issuer)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", c.Issuer)
	}
	if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		return fmt.Errorf("issuer must use https, got %q", c.Issuer)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("issuer must not contain a query or fragment")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Clients))
	for _, cl := range c.Clients {
		if seen[cl.ID] {
			return fmt.Errorf("duplicate client id %q", cl.ID)
		}
		seen[cl.ID] = true
		if err := cl.Validate(); err != nil {
			return fmt.Errorf("client %q: %w", cl.ID, err)
		}
		if cl.SubjectType == "pairwise" && c.PairwiseSalt == "" {
			return fmt.Errorf("client %q uses pairwise subjects but no pairwise_salt is configured", cl.ID)
		}
	}

	for _, ti := range c.TrustedIssuers {
		if ti.Issuer == "" || ti.JWKSURI == "" {
			return fmt.Errorf("trusted issuers need both issuer and jwks_uri")
		}
	}
	return nil
}

// scopeDefinitions converts the configured scopes, falling back to the
// default set.
func (c *Config) scopeDefinitions() []*registry.ScopeDefinition {
	src := c.Scopes
	if len(src) == 0 {
		src = defaultScopes()
	}
	out := make([]*registry.ScopeDefinition, 0, len(src))
	for _, s := range src {
		out = append(out, &registry.ScopeDefinition{
			Name:          s.Name,
			Claims:        s.Claims,
			ResourceBound: s.ResourceBound,
			Description:   s.Description,
		})
	}
	return out
}

func (c *Config) resourceDefinitions() []*registry.ResourceDefinition {
	out := make([]*registry.ResourceDefinition, 0, len(c.Resources))
	for _, r := range c.Resources {
		out = append(out, &registry.ResourceDefinition{
			URI:         r.URI,
			Scopes:      r.Scopes,
			TokenFormat: r.TokenFormat,
		})
	}
	return out
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is "memory" (default) or "redis".
	Type string `mapstructure:"type"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig carries the Redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c StorageConfig) validate() error {
	switch c.Type {
	case "", "memory":
		return nil
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis storage requires an address")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
}

// Build creates the configured storage backend.
func (c StorageConfig) Build(ctx context.Context) (storage.Storage, error) {
	switch c.Type {
	case "", "memory":
		return storage.NewMemoryStorage(), nil
	case "redis":
		return storage.NewRedisStorage(ctx, storage.RedisConfig{
			Addr:      c.Redis.Addr,
			Username:  c.Redis.Username,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", c.Type)
	}
}
