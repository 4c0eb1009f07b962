// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package fetch resolves indirect authorization request parameters before
// validation runs: pushed authorization requests (RFC 9126), request
// objects (RFC 9101) and request_uri references. After the chain runs,
// the request record holds the effective parameter set regardless of how
// the client delivered it.
package fetch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/networking"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// DefaultMaxRequestObjectLifetime bounds how far ahead a request object's
// exp may sit.
const DefaultMaxRequestObjectLifetime = 10 * time.Minute

// maxRequestURISize caps fetched request object documents. A compact JWS
// for an authorization request fits comfortably in a few KB.
const maxRequestURISize = 64 * 1024

// Fetcher resolves one kind of indirect parameter delivery, mutating the
// request in place.
type Fetcher interface {
	Fetch(ctx context.Context, req *request.Request, c *client.Client) *oidcerr.Error
}

// Chain runs fetchers in order, stopping at the first error.
type Chain []Fetcher

// Run executes the chain.
func (ch Chain) Run(ctx context.Context, req *request.Request, c *client.Client) *oidcerr.Error {
	for _, f := range ch {
		if err := f.Fetch(ctx, req, c); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pushed authorization requests
// ---------------------------------------------------------------------------

// PAR swaps a urn:ietf:params:oauth:request_uri reference for the pushed
// parameter set. The reference is single use and client bound.
type PAR struct {
	Store storage.PARStore
}

// Fetch implements Fetcher.
func (f *PAR) Fetch(ctx context.Context, req *request.Request, c *client.Client) *oidcerr.Error {
	ref := req.Get(request.ParamRequestURI)
	if !strings.HasPrefix(ref, oauth.PARRequestURIPrefix) {
		return nil
	}

	pushed, err := f.Store.ClaimPushedRequest(ctx, ref)
	if err != nil {
		logger.Debugw("pushed request claim failed", "request_uri", ref, "error", err)
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request_uri is unknown, expired or already used")
	}
	if pushed.ClientID != c.ID {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request_uri was issued to a different client")
	}
	if time.Now().After(pushed.ExpiresAt) {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request_uri has expired")
	}

	params := pushed.Params
	params.Set(request.ParamClientID, c.ID)
	req.Replace(params)
	return nil
}

// ---------------------------------------------------------------------------
// request_uri by reference
// ---------------------------------------------------------------------------

// RequestURI dereferences an https request_uri into a request object. The
// URI must be on the client's registered allowlist, and the fetch goes
// through the SSRF-protected HTTP client.
type RequestURI struct {
	HTTP networking.HTTPClient
}

// Fetch implements Fetcher.
func (f *RequestURI) Fetch(ctx context.Context, req *request.Request, c *client.Client) *oidcerr.Error {
	ref := req.Get(request.ParamRequestURI)
	if ref == "" || strings.HasPrefix(ref, oauth.PARRequestURIPrefix) {
		return nil
	}

	if req.Has(request.ParamRequest) {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request and request_uri must not both be present")
	}
	if f.HTTP == nil {
		return oidcerr.Fetch(oidcerr.CodeRequestURINotSupported, "request_uri is not supported")
	}
	if !strings.HasPrefix(ref, "https://") {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request_uri must use https")
	}
	if !clientAllowsRequestURI(c, ref) {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request_uri is not registered for this client")
	}

	body, err := networking.FetchBody(ctx, f.HTTP, ref,
		networking.WithMaxResponseSize(maxRequestURISize),
		networking.WithHeader("Accept", networking.ContentTypeJWT))
	if err != nil {
		logger.Debugw("request_uri fetch failed", "request_uri", ref, "error", err)
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request_uri could not be retrieved")
	}

	req.Set(request.ParamRequest, strings.TrimSpace(string(body)))
	req.Del(request.ParamRequestURI)
	return nil
}

func clientAllowsRequestURI(c *client.Client, ref string) bool {
	for _, allowed := range c.RequestURIs {
		if allowed == ref {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Request objects
// ---------------------------------------------------------------------------

// RequestObject verifies a JWT-secured authorization request and merges
// its claims over the bare query parameters (object wins, OIDC Core §6.1).
type RequestObject struct {
	// Issuer is the server's issuer identifier, required as the object's
	// audience.
	Issuer string

	// RemoteKeys fetches client JWKS documents by URI.
	RemoteKeys *jwks.Client

	// MaxLifetime bounds the object's exp; zero means the default.
	MaxLifetime time.Duration
}

// Fetch implements Fetcher.
func (f *RequestObject) Fetch(ctx context.Context, req *request.Request, c *client.Client) *oidcerr.Error {
	raw := req.Get(request.ParamRequest)
	if raw == "" {
		return nil
	}
	if req.Has(request.ParamRequestURI) {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request and request_uri must not both be present")
	}

	keys, err := f.clientKeys(ctx, c)
	if err != nil {
		logger.Debugw("request object key resolution failed", "client_id", c.ID, "error", err)
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "client has no keys to verify the request object")
	}

	verifier := jwt.NewVerifier(keys)
	token, err := verifier.Verify(raw, jwt.Expectations{
		Audience:      f.Issuer,
		Algorithms:    asymmetricAlgorithms,
		RequireExpiry: true,
	})
	if err != nil {
		logger.Debugw("request object verification failed", "client_id", c.ID, "error", err)
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request object verification failed")
	}

	claims := token.Claims
	if claims.Issuer() != c.ID {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request object iss must be the client_id")
	}
	if id := claims.ClientID(); id != "" && id != c.ID {
		return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request object client_id mismatch")
	}
	if exp, ok := claims.ExpiresAt(); ok {
		if time.Until(exp) > f.maxLifetime()+jwt.DefaultClockSkew {
			return oidcerr.Fetch(oidcerr.CodeInvalidRequest, "request object lifetime exceeds the allowed maximum")
		}
	}

	req.Merge(claimsToParams(claims))
	req.Del(request.ParamRequest)
	return nil
}

func (f *RequestObject) maxLifetime() time.Duration {
	if f.MaxLifetime > 0 {
		return f.MaxLifetime
	}
	return DefaultMaxRequestObjectLifetime
}

func (f *RequestObject) clientKeys(ctx context.Context, c *client.Client) ([]jose.JSONWebKey, error) {
	switch {
	case len(c.JWKS) > 0:
		set, err := jwt.UnmarshalJWKS(c.JWKS)
		if err != nil {
			return nil, fmt.Errorf("registered JWKS is invalid: %w", err)
		}
		return set.Keys, nil
	case c.JWKSURI != "":
		if f.RemoteKeys == nil {
			return nil, fmt.Errorf("remote JWKS retrieval is not configured")
		}
		set, err := f.RemoteKeys.JoseKeys(ctx, c.JWKSURI)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch client JWKS: %w", err)
		}
		return set.Keys, nil
	default:
		return nil, fmt.Errorf("client has no registered JWKS")
	}
}

var asymmetricAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// requestObjectSkip lists JWT housekeeping claims that are not
// authorization parameters.
var requestObjectSkip = map[string]bool{
	jwt.ClaimIssuer:    true,
	jwt.ClaimAudience:  true,
	jwt.ClaimExpiresAt: true,
	jwt.ClaimIssuedAt:  true,
	jwt.ClaimNotBefore: true,
	jwt.ClaimJTI:       true,
	jwt.ClaimSubject:   true,
}

// claimsToParams flattens request object claims into URL parameter form.
// Arrays become repeated parameters (resource); numbers are rendered in
// decimal (max_age).
func claimsToParams(claims jwt.Claims) map[string][]string {
	out := make(map[string][]string, len(claims))
	for name, value := range claims {
		if requestObjectSkip[name] {
			continue
		}
		switch v := value.(type) {
		case string:
			out[name] = []string{v}
		case bool:
			out[name] = []string{strconv.FormatBool(v)}
		case float64:
			out[name] = []string{strconv.FormatFloat(v, 'f', -1, 64)}
		case []any:
			vals := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					vals = append(vals, s)
				}
			}
			if len(vals) > 0 {
				out[name] = vals
			}
		}
	}
	return out
}
