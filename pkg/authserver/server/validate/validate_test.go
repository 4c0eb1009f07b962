// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

func testClient() *client.Client {
	return &client.Client{
		ID:                      "rp-1",
		TokenEndpointAuthMethod: oauth.TokenEndpointAuthMethodBasic,
		RedirectURIs:            []string{"https://rp.example/cb"},
		ResponseTypes:           []string{"code", "code id_token"},
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		Scopes:                  []string{"openid", "profile", "offline_access", "orders:read"},
	}
}

func vcFor(params url.Values) *Context {
	return &Context{
		Request: request.New(params),
		Client:  testClient(),
	}
}

func TestRedirectURI(t *testing.T) {
	t.Parallel()

	vc := vcFor(url.Values{request.ParamRedirectURI: {"https://rp.example/cb"}})
	assert.Nil(t, RedirectURI(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamRedirectURI: {"https://rp.example/cb/"}})
	oerr := RedirectURI(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "not registered")

	// A single registered URI is filled in when the parameter is absent.
	vc = vcFor(url.Values{})
	assert.Nil(t, RedirectURI(context.Background(), vc))
	assert.Equal(t, "https://rp.example/cb", vc.Request.RedirectURI())

	// With several registered URIs the parameter becomes mandatory.
	vc = vcFor(url.Values{})
	vc.Client.RedirectURIs = append(vc.Client.RedirectURIs, "https://rp.example/cb2")
	oerr = RedirectURI(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "required")
}

func TestResponseType(t *testing.T) {
	t.Parallel()

	vc := vcFor(url.Values{request.ParamResponseType: {"code"}})
	assert.Nil(t, ResponseType(context.Background(), vc))

	// Token order within the response type does not matter.
	vc = vcFor(url.Values{request.ParamResponseType: {"id_token code"}})
	assert.Nil(t, ResponseType(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamResponseType: {"token"}})
	oerr := ResponseType(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeUnsupportedResponseType, oerr.Code)

	vc = vcFor(url.Values{})
	oerr = ResponseType(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "required")
}

func TestResponseMode(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"", "query", "fragment", "form_post", "jwt", "query.jwt", "fragment.jwt", "form_post.jwt"} {
		vc := vcFor(url.Values{
			request.ParamResponseType: {"code"},
			request.ParamResponseMode: {mode},
		})
		assert.Nil(t, ResponseMode(context.Background(), vc), mode)
	}

	vc := vcFor(url.Values{request.ParamResponseMode: {"banner"}})
	require.NotNil(t, ResponseMode(context.Background(), vc))

	// Hybrid responses must not land in the query string.
	vc = vcFor(url.Values{
		request.ParamResponseType: {"code id_token"},
		request.ParamResponseMode: {"query"},
	})
	oerr := ResponseMode(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "query")
}

func TestPKCE(t *testing.T) {
	t.Parallel()

	challenge := crypto.ComputePKCEChallenge(crypto.GeneratePKCEVerifier())

	t.Run("s256 accepted", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{
			request.ParamCodeChallenge:       {challenge},
			request.ParamCodeChallengeMethod: {"S256"},
		})
		assert.Nil(t, PKCE(context.Background(), vc))
	})

	t.Run("method defaults when challenge present", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{request.ParamCodeChallenge: {challenge}})
		assert.Nil(t, PKCE(context.Background(), vc))
	})

	t.Run("plain gated on client policy", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{
			request.ParamCodeChallenge:       {"some-plain-challenge"},
			request.ParamCodeChallengeMethod: {"plain"},
		})
		oerr := PKCE(context.Background(), vc)
		require.NotNil(t, oerr)
		assert.Contains(t, oerr.Description, "plain")

		vc.Client.AllowPlainPKCE = true
		assert.Nil(t, PKCE(context.Background(), vc))
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{
			request.ParamCodeChallenge:       {challenge},
			request.ParamCodeChallengeMethod: {"S512"},
		})
		require.NotNil(t, PKCE(context.Background(), vc))
	})

	t.Run("public client must use pkce", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{request.ParamResponseType: {"code"}})
		vc.Client.TokenEndpointAuthMethod = oauth.TokenEndpointAuthMethodNone
		oerr := PKCE(context.Background(), vc)
		require.NotNil(t, oerr)
		assert.Contains(t, oerr.Description, "PKCE")
	})

	t.Run("confidential client without policy may skip", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{request.ParamResponseType: {"code"}})
		assert.Nil(t, PKCE(context.Background(), vc))
	})

	t.Run("malformed challenge", func(t *testing.T) {
		t.Parallel()
		vc := vcFor(url.Values{request.ParamCodeChallenge: {"short"}})
		oerr := PKCE(context.Background(), vc)
		require.NotNil(t, oerr)
		assert.Contains(t, oerr.Description, "malformed")
	})
}

func testScopeManager() *registry.ScopeManager {
	return registry.NewScopeManager(
		&registry.ScopeDefinition{Name: "openid"},
		&registry.ScopeDefinition{Name: "profile", Claims: []string{"name"}},
		&registry.ScopeDefinition{Name: registry.OfflineAccessScope},
		&registry.ScopeDefinition{Name: "orders:read", ResourceBound: true},
	)
}

func TestScopesValidator(t *testing.T) {
	t.Parallel()

	scopes := Scopes(testScopeManager())

	vc := vcFor(url.Values{request.ParamScope: {"openid profile offline_access"}})
	require.Nil(t, scopes(context.Background(), vc))
	assert.Equal(t, []string{"openid", "profile", "offline_access"}, vc.ScopeNames())

	// offline_access drops silently when the client cannot refresh.
	vc = vcFor(url.Values{request.ParamScope: {"openid offline_access"}})
	vc.Client.GrantTypes = []string{oauth.GrantTypeAuthorizationCode}
	require.Nil(t, scopes(context.Background(), vc))
	assert.Equal(t, []string{"openid"}, vc.ScopeNames())

	// Scopes outside the client registration are rejected before the
	// registry sees them.
	vc = vcFor(url.Values{request.ParamScope: {"openid email"}})
	oerr := scopes(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeInvalidScope, oerr.Code)

	// Resource-bound scopes need a resolved resource that registers them.
	vc = vcFor(url.Values{request.ParamScope: {"orders:read"}})
	oerr = scopes(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "resource")

	vc = vcFor(url.Values{request.ParamScope: {"orders:read"}})
	vc.Resources = []*registry.ResourceDefinition{
		{URI: "https://orders.example.com", Scopes: []string{"orders:read"}},
	}
	require.Nil(t, scopes(context.Background(), vc))
	assert.Equal(t, []string{"https://orders.example.com"}, vc.Audience())
}

func TestResourcesValidator(t *testing.T) {
	t.Parallel()

	rm, err := registry.NewResourceManager(
		&registry.ResourceDefinition{URI: "https://orders.example.com", Scopes: []string{"orders:read"}},
	)
	require.NoError(t, err)
	resources := Resources(rm)

	vc := vcFor(url.Values{request.ParamResource: {"https://orders.example.com"}})
	require.Nil(t, resources(context.Background(), vc))
	assert.Equal(t, []string{"https://orders.example.com"}, vc.Audience())

	vc = vcFor(url.Values{request.ParamResource: {"https://other.example.com"}})
	oerr := resources(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeInvalidTarget, oerr.Code)
}

func TestNonce(t *testing.T) {
	t.Parallel()

	vc := vcFor(url.Values{request.ParamResponseType: {"code id_token"}})
	oerr := Nonce(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "nonce")

	vc = vcFor(url.Values{
		request.ParamResponseType: {"code id_token"},
		request.ParamNonce:        {"n-0S6_WzA2Mj"},
	})
	assert.Nil(t, Nonce(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamResponseType: {"code"}})
	assert.Nil(t, Nonce(context.Background(), vc))
}

func TestPrompt(t *testing.T) {
	t.Parallel()

	session := &request.AuthSession{Subject: "alice", AuthTime: time.Now()}

	vc := vcFor(url.Values{request.ParamPrompt: {"none"}})
	vc.AuthSession = session
	assert.Nil(t, Prompt(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamPrompt: {"none"}})
	oerr := Prompt(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeLoginRequired, oerr.Code)

	vc = vcFor(url.Values{request.ParamPrompt: {"none login"}})
	vc.AuthSession = session
	oerr = Prompt(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeInvalidRequest, oerr.Code)

	vc = vcFor(url.Values{request.ParamPrompt: {"signup"}})
	require.NotNil(t, Prompt(context.Background(), vc))
}

func TestMaxAge(t *testing.T) {
	t.Parallel()

	now := time.Now()
	stale := &request.AuthSession{Subject: "alice", AuthTime: now.Add(-time.Hour)}

	vc := vcFor(url.Values{
		request.ParamMaxAge: {"60"},
		request.ParamPrompt: {"none"},
	})
	vc.AuthSession = stale
	vc.Now = func() time.Time { return now }
	oerr := MaxAge(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeLoginRequired, oerr.Code)

	// Without prompt=none the host reauthenticates; no protocol error.
	vc = vcFor(url.Values{request.ParamMaxAge: {"60"}})
	vc.AuthSession = stale
	vc.Now = func() time.Time { return now }
	assert.Nil(t, MaxAge(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamMaxAge: {"7200"}})
	vc.AuthSession = stale
	vc.Now = func() time.Time { return now }
	assert.Nil(t, MaxAge(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamMaxAge: {"-5"}})
	oerr = MaxAge(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "non-negative")
}

func TestGrantTypeAllowed(t *testing.T) {
	t.Parallel()

	vc := vcFor(url.Values{request.ParamGrantType: {oauth.GrantTypeAuthorizationCode}})
	assert.Nil(t, GrantTypeAllowed(context.Background(), vc))

	vc = vcFor(url.Values{request.ParamGrantType: {oauth.GrantTypeClientCredentials}})
	oerr := GrantTypeAllowed(context.Background(), vc)
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeUnauthorizedClient, oerr.Code)
}

func TestPipelineStopsAtFirstError(t *testing.T) {
	t.Parallel()

	calls := 0
	counting := func(context.Context, *Context) *oidcerr.Error {
		calls++
		return nil
	}
	failing := func(context.Context, *Context) *oidcerr.Error {
		return oidcerr.Invalid("boom")
	}

	p := Pipeline{counting, failing, counting}
	oerr := p.Run(context.Background(), vcFor(url.Values{}))
	require.NotNil(t, oerr)
	assert.Equal(t, 1, calls)
}
