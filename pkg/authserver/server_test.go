// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/handlers"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/oauth"
	"github.com/kestrelauth/kestrel/pkg/routes"
)

// approveAll authorizes every validated request with a fixed session.
type approveAll struct{ session *request.AuthSession }

func (a *approveAll) Session(*http.Request) *request.AuthSession { return a.session }

func (a *approveAll) Authorize(_ http.ResponseWriter, _ *http.Request, _ *handlers.AuthorizeRequest) (*request.AuthorizedGrant, *oidcerr.Error) {
	return &request.AuthorizedGrant{Session: a.session}, nil
}

func newServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	hash, err := client.HashSecret("s3cret", client.SecretHashSHA256)
	require.NoError(t, err)

	cfg := Config{
		Issuer: "https://auth.example.com",
		Clients: []*client.Client{{
			ID:                      "rp-1",
			TokenEndpointAuthMethod: oauth.TokenEndpointAuthMethodBasic,
			Secret:                  &client.Secret{Hash: hash, Algorithm: client.SecretHashSHA256},
			RedirectURIs:            []string{"https://rp.example/cb"},
			GrantTypes:              []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
			ResponseTypes:           []string{"code"},
			Scopes:                  []string{"openid", "profile", "offline_access"},
		}},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(context.Background(), cfg, Options{
		Authorizer: &approveAll{session: &request.AuthSession{
			Subject:  "alice",
			AuthTime: time.Now(),
			Claims:   map[string]any{"name": "Alice Cooper"},
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServerEndToEnd(t *testing.T) {
	t.Parallel()
	srv := newServer(t, nil)

	// Discovery names the endpoints we are about to use.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://auth.example.com", doc["issuer"])

	// Authorization request.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connect/authorize?"+url.Values{
		"client_id":     {"rp-1"},
		"response_type": {"code"},
		"redirect_uri":  {"https://rp.example/cb"},
		"scope":         {"openid profile"},
		"state":         {"s"},
	}.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code, "body: %s", rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// Code redemption.
	req := httptest.NewRequest(http.MethodPost, "/connect/token", strings.NewReader(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://rp.example/cb"},
	}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("rp-1", "s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var tokens map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	accessToken, _ := tokens["access_token"].(string)
	require.NotEmpty(t, accessToken)
	assert.NotEmpty(t, tokens["id_token"])

	// The issued token verifies against the server's own keys.
	verified, err := srv.Issuer().Verify(accessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", verified.Claims.Subject())

	require.NoError(t, srv.Healthy(context.Background()))
}

func TestServerCIBADisabledWithoutAuthenticator(t *testing.T) {
	t.Parallel()
	srv := newServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connect/bc-authorize", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.NotContains(t, doc, "backchannel_authentication_endpoint")
}

func TestServerRouteOverrides(t *testing.T) {
	t.Parallel()
	srv := newServer(t, func(cfg *Config) {
		cfg.RouteOverrides = map[string]string{routes.KeyBase: "/oauth2"}
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://auth.example.com/oauth2/token", doc["token_endpoint"])
}

func TestServerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, Options{})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestServerSeedsAndUpdatesStaticClients(t *testing.T) {
	t.Parallel()
	srv := newServer(t, nil)

	c, err := srv.Storage().GetClient(context.Background(), "rp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rp.example/cb"}, c.RedirectURIs)
}
