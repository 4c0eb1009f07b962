// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package client defines the registered OAuth/OIDC client model and its
// registration invariants.
package client

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// SecretHashAlgorithm identifies how a client secret is hashed at rest.
type SecretHashAlgorithm string

// Supported secret hash algorithms.
const (
	SecretHashSHA256 SecretHashAlgorithm = "S256"
	SecretHashSHA512 SecretHashAlgorithm = "S512"
)

// Secret is a hashed client credential.
type Secret struct {
	// Hash is the base64url-encoded digest of the secret.
	Hash string `json:"hash"`

	// Algorithm is the digest algorithm.
	Algorithm SecretHashAlgorithm `json:"alg"`

	// Value retains the raw secret for clients registered with
	// client_secret_jwt, which needs it as the MAC key. Empty for all
	// other authentication methods.
	Value string `json:"value,omitempty"`

	// ExpiresAt bounds the credential lifetime; zero means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// TLSClientAuth holds the registered certificate metadata for the
// tls_client_auth and self_signed_tls_client_auth methods (RFC 8705).
type TLSClientAuth struct {
	SubjectDN      string `json:"tls_client_auth_subject_dn,omitempty"`
	SANDNS         string `json:"tls_client_auth_san_dns,omitempty"`
	SANURI         string `json:"tls_client_auth_san_uri,omitempty"`
	SANIP          string `json:"tls_client_auth_san_ip,omitempty"`
	SANEmail       string `json:"tls_client_auth_san_email,omitempty"`
	CertThumbprint string `json:"x5t#S256,omitempty"`
}

// Client is a registered relying party.
type Client struct {
	ID string `json:"client_id"`

	// Descriptive metadata (RFC 7591 §2), echoed on the management
	// surface and available to consent UIs.
	Name     string   `json:"client_name,omitempty"`
	URI      string   `json:"client_uri,omitempty"`
	Contacts []string `json:"contacts,omitempty"`

	// Credentials. At most one active secret; JWKS by value or URI for
	// the JWT-based and mTLS methods.
	Secret                  *Secret        `json:"secret,omitempty"`
	JWKS                    []byte         `json:"jwks,omitempty"` // raw JWKS document
	JWKSURI                 string         `json:"jwks_uri,omitempty"`
	TLS                     *TLSClientAuth `json:"tls,omitempty"`
	TokenEndpointAuthMethod string         `json:"token_endpoint_auth_method"`

	RedirectURIs  []string `json:"redirect_uris"`
	ResponseTypes []string `json:"response_types"`
	GrantTypes    []string `json:"grant_types"`
	Scopes        []string `json:"scopes"`

	// RequestURIs is the allowlist for JAR by reference. Empty means
	// request_uri (other than PAR URNs) is not accepted for this client.
	RequestURIs []string `json:"request_uris,omitempty"`

	// PKCE policy.
	RequirePKCE    bool `json:"require_pkce"`
	AllowPlainPKCE bool `json:"allow_plain_pkce"`

	// Token lifetimes; zero means server default.
	AccessTokenLifespan  time.Duration `json:"access_token_lifespan,omitempty"`
	RefreshTokenLifespan time.Duration `json:"refresh_token_lifespan,omitempty"`

	// ID token preferences.
	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`
	UserInfoSignedResponseAlg   string `json:"userinfo_signed_response_alg,omitempty"`

	SubjectType         string `json:"subject_type,omitempty"`
	SectorIdentifierURI string `json:"sector_identifier_uri,omitempty"`

	FrontchannelLogoutURI             string   `json:"frontchannel_logout_uri,omitempty"`
	FrontchannelLogoutSessionRequired bool     `json:"frontchannel_logout_session_required,omitempty"`
	BackchannelLogoutURI              string   `json:"backchannel_logout_uri,omitempty"`
	BackchannelLogoutSessionRequired  bool     `json:"backchannel_logout_session_required,omitempty"`
	PostLogoutRedirectURIs            []string `json:"post_logout_redirect_uris,omitempty"`

	// CertificateBoundTokens requests cnf.x5t#S256 binding on issued
	// access tokens (RFC 8705 §3).
	CertificateBoundTokens bool `json:"tls_client_certificate_bound_access_tokens,omitempty"`

	// RegistrationAccessTokenHash guards the RFC 7592 management surface.
	RegistrationAccessTokenHash string `json:"registration_access_token_hash,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Public reports whether the client authenticates with method "none".
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodNone
}

// AllowsGrantType reports whether the grant type is registered.
func (c *Client) AllowsGrantType(gt string) bool {
	return slices.Contains(c.GrantTypes, gt)
}

// AllowsResponseType reports whether the response type is registered.
// Comparison is space-token order-insensitive per OIDC Core §3.
func (c *Client) AllowsResponseType(rt string) bool {
	want := tokenSet(rt)
	for _, allowed := range c.ResponseTypes {
		if tokenSetEqual(want, tokenSet(allowed)) {
			return true
		}
	}
	return false
}

// AllowsScope reports whether a single scope token is registered.
func (c *Client) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// AllowsRedirectURI matches the redirect URI against the allowlist.
// Matching is exact; pattern registration is not supported.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowsPostLogoutRedirectURI matches against the post-logout allowlist.
func (c *Client) AllowsPostLogoutRedirectURI(uri string) bool {
	return slices.Contains(c.PostLogoutRedirectURIs, uri)
}

// UsesMTLS reports whether the client authenticates with a TLS method.
func (c *Client) UsesMTLS() bool {
	return c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodTLSClientAuth ||
		c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodSelfSignedTLSAuth
}

// Validate enforces the registration invariants.
func (c *Client) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client_id is required")
	}

	for _, raw := range c.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("redirect URI %q is not a valid URI", raw)
		}
		if !u.IsAbs() {
			return fmt.Errorf("redirect URI %q must be absolute", raw)
		}
		if u.Fragment != "" {
			return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
		}
	}

	if c.SubjectType == oauth.SubjectTypePairwise && c.SectorIdentifierURI == "" && len(c.RedirectURIs) > 1 {
		if !sameHost(c.RedirectURIs) {
			return fmt.Errorf("pairwise subject type requires a sector_identifier_uri when redirect URIs span hosts")
		}
	}

	if c.CertificateBoundTokens && !c.UsesMTLS() {
		return fmt.Errorf("certificate-bound tokens require a TLS client authentication method")
	}

	if c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodTLSClientAuth && c.TLS == nil {
		return fmt.Errorf("tls_client_auth requires registered certificate metadata")
	}
	if c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodSelfSignedTLSAuth &&
		c.TLS == nil && len(c.JWKS) == 0 && c.JWKSURI == "" {
		return fmt.Errorf("self_signed_tls_client_auth requires a certificate thumbprint or client keys")
	}

	return nil
}

// SectorIdentifier returns the host used for pairwise subject derivation.
func (c *Client) SectorIdentifier() string {
	if c.SectorIdentifierURI != "" {
		if u, err := url.Parse(c.SectorIdentifierURI); err == nil {
			return u.Host
		}
	}
	if len(c.RedirectURIs) > 0 {
		if u, err := url.Parse(c.RedirectURIs[0]); err == nil {
			return u.Host
		}
	}
	return ""
}

// HashSecret hashes a plaintext secret for storage.
func HashSecret(secret string, alg SecretHashAlgorithm) (string, error) {
	switch alg {
	case SecretHashSHA256:
		sum := sha256.Sum256([]byte(secret))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case SecretHashSHA512:
		sum := sha512.Sum512([]byte(secret))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported secret hash algorithm %q", alg)
	}
}

// CheckSecret compares a presented secret against the stored hash in
// constant time.
func (c *Client) CheckSecret(presented string, now time.Time) bool {
	if c.Secret == nil {
		return false
	}
	if !c.Secret.ExpiresAt.IsZero() && now.After(c.Secret.ExpiresAt) {
		return false
	}
	hashed, err := HashSecret(presented, c.Secret.Algorithm)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashed), []byte(c.Secret.Hash)) == 1
}

func sameHost(uris []string) bool {
	var host string
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			return false
		}
		if host == "" {
			host = u.Host
			continue
		}
		if u.Host != host {
			return false
		}
	}
	return true
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	start := -1
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if start >= 0 {
				out[s[start:i]] = true
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return out
}

func tokenSetEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
