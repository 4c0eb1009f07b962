// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package clientauth authenticates OAuth clients at the token, PAR,
// introspection, revocation, device and backchannel endpoints. The
// authenticator is selected by the client's registered
// token_endpoint_auth_method, so a client can never downgrade to a weaker
// method than it registered.
package clientauth

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// ErrMethodNotAttempted indicates the request did not carry the credential
// kind the client's registered method requires. Callers use it to
// distinguish wrong-method from bad-credential failures.
var ErrMethodNotAttempted = errors.New("client authentication method not attempted")

// DefaultMaxAssertionLifetime bounds how far ahead a client assertion's
// exp may sit (RFC 7523 recommends short-lived assertions).
const DefaultMaxAssertionLifetime = 5 * time.Minute

// Request carries the client credentials extracted from an HTTP request.
type Request struct {
	ClientID     string
	ClientSecret string

	// BasicAuth is true when the secret arrived in the Authorization
	// header rather than the form body.
	BasicAuth bool

	ClientAssertion     string
	ClientAssertionType string

	// Certificate is the verified TLS peer certificate, when present.
	Certificate *x509.Certificate
}

// ParseRequest extracts client credentials from an HTTP request. Basic
// credentials are form-urlencoded per RFC 6749 §2.3.1.
func ParseRequest(r *http.Request) *Request {
	req := &Request{
		ClientAssertion:     r.PostFormValue("client_assertion"),
		ClientAssertionType: r.PostFormValue("client_assertion_type"),
	}

	if id, secret, ok := r.BasicAuth(); ok {
		req.BasicAuth = true
		req.ClientID = formUnescape(id)
		req.ClientSecret = formUnescape(secret)
	} else {
		req.ClientID = r.PostFormValue("client_id")
		req.ClientSecret = r.PostFormValue("client_secret")
	}

	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		req.Certificate = r.TLS.PeerCertificates[0]
	}

	return req
}

func formUnescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

// CertificateThumbprint computes the base64url SHA-256 thumbprint of a
// certificate (the x5t#S256 confirmation value, RFC 8705).
func CertificateThumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Authenticator verifies one client authentication method.
type Authenticator interface {
	// Method returns the token_endpoint_auth_method identifier.
	Method() string

	// Authenticate verifies the request credentials against the client.
	// Returns ErrMethodNotAttempted when the request does not carry this
	// method's credential kind.
	Authenticate(ctx context.Context, req *Request, c *client.Client) error
}

// Config holds the issuer-level values assertion verification depends on.
type Config struct {
	// Issuer is the server's issuer identifier; accepted as assertion
	// audience alongside the token endpoint URL.
	Issuer string

	// TokenEndpoint is the absolute token endpoint URL.
	TokenEndpoint string

	// MaxAssertionLifetime bounds assertion exp; zero means the default.
	MaxAssertionLifetime time.Duration
}

func (c *Config) maxAssertionLifetime() time.Duration {
	if c.MaxAssertionLifetime > 0 {
		return c.MaxAssertionLifetime
	}
	return DefaultMaxAssertionLifetime
}

// Registry authenticates clients by their registered method.
type Registry struct {
	clients storage.ClientStore
	methods map[string]Authenticator
}

// NewRegistry wires up all supported authentication methods.
func NewRegistry(clients storage.ClientStore, replay storage.ReplayCache, remoteKeys *jwks.Client, cfg Config) *Registry {
	assertions := &assertionVerifier{replay: replay, cfg: cfg}

	r := &Registry{
		clients: clients,
		methods: make(map[string]Authenticator),
	}
	for _, a := range []Authenticator{
		&noneAuthenticator{},
		&secretBasicAuthenticator{},
		&secretPostAuthenticator{},
		&secretJWTAuthenticator{assertions: assertions},
		&privateKeyJWTAuthenticator{assertions: assertions, remoteKeys: remoteKeys},
		&tlsAuthenticator{},
		&selfSignedTLSAuthenticator{},
	} {
		r.methods[a.Method()] = a
	}
	return r
}

// Authenticate identifies and authenticates the client behind a request.
// All failures surface as invalid_client; details go to the log, not the
// response.
func (r *Registry) Authenticate(ctx context.Context, req *Request) (*client.Client, *oidcerr.Error) {
	clientID := req.ClientID
	if clientID == "" && req.ClientAssertion != "" {
		clientID = peekAssertionSubject(req.ClientAssertion)
	}
	if clientID == "" {
		return nil, oidcerr.InvalidClient("no client identification provided")
	}

	c, err := r.clients.GetClient(ctx, clientID)
	if err != nil {
		logger.Debugw("client lookup failed", "client_id", clientID, "error", err)
		return nil, oidcerr.InvalidClient("client authentication failed")
	}

	auth, ok := r.methods[c.TokenEndpointAuthMethod]
	if !ok {
		logger.Warnw("client registered with unsupported auth method",
			"client_id", clientID, "method", c.TokenEndpointAuthMethod)
		return nil, oidcerr.InvalidClient("client authentication failed")
	}

	if err := auth.Authenticate(ctx, req, c); err != nil {
		logger.Debugw("client authentication failed",
			"client_id", clientID, "method", auth.Method(), "error", err)
		if errors.Is(err, ErrMethodNotAttempted) {
			return nil, oidcerr.InvalidClient("").
				WithDescriptionf("client must authenticate with %q", c.TokenEndpointAuthMethod)
		}
		return nil, oidcerr.InvalidClient("client authentication failed")
	}

	return c, nil
}

// peekAssertionSubject extracts the sub claim from an unverified assertion
// so the client record (and with it the verification keys) can be loaded.
// The assertion is fully verified afterwards.
func peekAssertionSubject(assertion string) string {
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

// assertionPresented reports whether the request carries a JWT bearer
// client assertion (RFC 7523 §2.2).
func assertionPresented(req *Request) bool {
	return req.ClientAssertion != "" &&
		req.ClientAssertionType == oauth.ClientAssertionTypeJWTBearer
}
