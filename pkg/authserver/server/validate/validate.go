// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package validate checks authorization requests after the fetch stage
// resolved all indirection. Validators are small composable functions; a
// Pipeline runs them in order and stops at the first protocol error.
package validate

import (
	"context"
	"strings"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// Context carries one request through the validator chain. Validators
// read the request and client, and fill in the resolved outputs.
type Context struct {
	Request *request.Request
	Client  *client.Client

	// AuthSession is the end-user session, nil when unauthenticated.
	AuthSession *request.AuthSession

	// Scopes and Resources are the resolved grants, filled by the scope
	// and resource validators.
	Scopes    []*registry.ScopeDefinition
	Resources []*registry.ResourceDefinition

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// ScopeNames returns the granted scope names in request order.
func (vc *Context) ScopeNames() []string {
	out := make([]string, 0, len(vc.Scopes))
	for _, def := range vc.Scopes {
		out = append(out, def.Name)
	}
	return out
}

// Audience returns the resolved resource URIs, which become the token
// audience.
func (vc *Context) Audience() []string {
	out := make([]string, 0, len(vc.Resources))
	for _, def := range vc.Resources {
		out = append(out, def.URI)
	}
	return out
}

func (vc *Context) now() time.Time {
	if vc.Now != nil {
		return vc.Now()
	}
	return time.Now()
}

// Validator checks one aspect of a request.
type Validator func(ctx context.Context, vc *Context) *oidcerr.Error

// Pipeline is an ordered validator chain.
type Pipeline []Validator

// Run executes the pipeline, stopping at the first error.
func (p Pipeline) Run(ctx context.Context, vc *Context) *oidcerr.Error {
	for _, v := range p {
		if err := v(ctx, vc); err != nil {
			return err
		}
	}
	return nil
}

// RedirectURI requires an exactly-matching registered redirect URI. A
// missing parameter is accepted only when exactly one URI is registered,
// in which case it is filled in.
func RedirectURI(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	uri := vc.Request.RedirectURI()
	if uri == "" {
		if len(vc.Client.RedirectURIs) == 1 {
			vc.Request.Set(request.ParamRedirectURI, vc.Client.RedirectURIs[0])
			return nil
		}
		return oidcerr.Invalid("redirect_uri is required")
	}
	if !vc.Client.AllowsRedirectURI(uri) {
		return oidcerr.Invalid("redirect_uri is not registered for this client")
	}
	return nil
}

// ResponseType requires a registered response type.
func ResponseType(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	rt := vc.Request.ResponseType()
	if rt == "" {
		return oidcerr.Invalid("response_type is required")
	}
	if !vc.Client.AllowsResponseType(rt) {
		return oidcerr.Validate(oidcerr.CodeUnsupportedResponseType, "response_type is not registered for this client")
	}
	return nil
}

// ResponseMode rejects unknown response_mode values and the query mode
// for response types that carry tokens in the response.
func ResponseMode(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	mode := vc.Request.ResponseMode()
	switch mode {
	case "", oauth.ResponseModeQuery, oauth.ResponseModeFragment, oauth.ResponseModeFormPost,
		oauth.ResponseModeQueryJWT, oauth.ResponseModeFragmentJWT, oauth.ResponseModeFormPostJWT, oauth.ResponseModeJWT:
	default:
		return oidcerr.Invalid("unsupported response_mode")
	}

	if mode == oauth.ResponseModeQuery && responseTypeCarriesToken(vc.Request.ResponseType()) {
		return oidcerr.Invalid("response_mode=query must not be used with implicit or hybrid response types")
	}
	return nil
}

func responseTypeCarriesToken(rt string) bool {
	for _, tok := range strings.Fields(rt) {
		if tok == "token" || tok == "id_token" {
			return true
		}
	}
	return false
}

// PKCE validates code_challenge parameters. S256 is always accepted;
// plain only when the client's registration allows it. Clients marked
// RequirePKCE (and all public clients) must send a challenge for code
// flows.
func PKCE(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	challenge := vc.Request.Get(request.ParamCodeChallenge)
	method := vc.Request.Get(request.ParamCodeChallengeMethod)

	if challenge == "" {
		if method != "" {
			return oidcerr.Invalid("code_challenge_method requires a code_challenge")
		}
		usesCode := strings.Contains(" "+vc.Request.ResponseType()+" ", " code ")
		if usesCode && (vc.Client.RequirePKCE || vc.Client.Public()) {
			return oidcerr.Invalid("this client must use PKCE")
		}
		return nil
	}

	switch method {
	case "", crypto.PKCEChallengeMethodS256:
		// S256 is the default when a challenge is present.
	case "plain":
		if !vc.Client.AllowPlainPKCE {
			return oidcerr.Invalid("code_challenge_method=plain is not allowed for this client")
		}
		return nil
	default:
		return oidcerr.Invalid("unsupported code_challenge_method")
	}

	// An S256 challenge is a 43-character base64url digest.
	if len(challenge) != 43 {
		return oidcerr.Invalid("malformed code_challenge")
	}
	return nil
}

// Scopes resolves the requested scopes through the scope registry,
// filling vc.Scopes. Must run after Resources when resource-bound scopes
// are in play.
func Scopes(scopes *registry.ScopeManager) Validator {
	return func(_ context.Context, vc *Context) *oidcerr.Error {
		requested := vc.Request.Scopes()
		for _, s := range requested {
			if len(vc.Client.Scopes) > 0 && !vc.Client.AllowsScope(s) {
				return oidcerr.Validate(oidcerr.CodeInvalidScope, "").
					WithDescriptionf("scope %q is not registered for this client", s)
			}
		}

		resolved, err := scopes.Resolve(requested, vc.Resources, registry.ResolveOptions{
			Interactive:      true,
			ClientCanRefresh: vc.Client.AllowsGrantType(oauth.GrantTypeRefreshToken),
		})
		if err != nil {
			return err
		}
		vc.Scopes = resolved
		return nil
	}
}

// Resources resolves RFC 8707 resource indicators through the resource
// registry, filling vc.Resources.
func Resources(resources *registry.ResourceManager) Validator {
	return func(_ context.Context, vc *Context) *oidcerr.Error {
		resolved, err := resources.Resolve(vc.Request.Resources())
		if err != nil {
			return err
		}
		vc.Resources = resolved
		return nil
	}
}

// Nonce requires a nonce whenever the response type issues an ID token
// from the authorization endpoint (OIDC Core §3.2.2.1).
func Nonce(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	needsNonce := false
	for _, tok := range strings.Fields(vc.Request.ResponseType()) {
		if tok == "id_token" {
			needsNonce = true
		}
	}
	if needsNonce && vc.Request.Nonce() == "" {
		return oidcerr.Invalid("nonce is required for implicit and hybrid flows")
	}
	return nil
}

// Prompt enforces the prompt parameter rules: none is exclusive, and
// none without an authenticated session is login_required.
func Prompt(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	prompts := vc.Request.Prompts()
	hasNone := false
	for _, p := range prompts {
		switch p {
		case oauth.PromptNone:
			hasNone = true
		case oauth.PromptLogin, oauth.PromptConsent, oauth.PromptSelectAccount:
		default:
			return oidcerr.Invalid("unsupported prompt value")
		}
	}

	if hasNone {
		if len(prompts) > 1 {
			return oidcerr.Invalid("prompt=none must not be combined with other prompt values")
		}
		if !vc.AuthSession.Authenticated() {
			return oidcerr.Validate(oidcerr.CodeLoginRequired, "no authenticated session and prompt=none")
		}
	}
	return nil
}

// MaxAge forces reauthentication when the session's auth_time is older
// than the requested max_age. With prompt=none that surfaces as
// login_required; otherwise the host is expected to reauthenticate.
func MaxAge(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	maxAge, ok := vc.Request.MaxAge()
	if !ok {
		if vc.Request.Has(request.ParamMaxAge) {
			return oidcerr.Invalid("max_age must be a non-negative integer")
		}
		return nil
	}
	if !vc.AuthSession.Authenticated() {
		return nil
	}

	age := vc.now().Sub(vc.AuthSession.AuthTime)
	if age > maxAge && vc.Request.HasPrompt(oauth.PromptNone) {
		return oidcerr.Validate(oidcerr.CodeLoginRequired, "session is older than the requested max_age")
	}
	return nil
}

// GrantTypeAllowed checks the token endpoint grant type against the
// client registration.
func GrantTypeAllowed(ctx context.Context, vc *Context) *oidcerr.Error {
	_ = ctx

	gt := vc.Request.Get(request.ParamGrantType)
	if gt == "" {
		return oidcerr.Invalid("grant_type is required")
	}
	if !vc.Client.AllowsGrantType(gt) {
		return oidcerr.Validate(oidcerr.CodeUnauthorizedClient, "grant_type is not registered for this client")
	}
	return nil
}
