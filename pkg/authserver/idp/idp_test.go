// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/server/keys"
	"github.com/kestrelauth/kestrel/pkg/jwt"
)

// upstream fakes an OIDC provider: discovery, JWKS, token and userinfo.
type upstream struct {
	srv  *httptest.Server
	keys *keys.Manager

	// tokenResponse is returned by the token endpoint; password/username
	// are checked against alice/wonderland.
	withIDToken bool
}

func newUpstream(t *testing.T, withIDToken bool) *upstream {
	t.Helper()

	km, err := keys.NewManager(context.Background(), keys.NewGeneratingProvider())
	require.NoError(t, err)

	u := &upstream{keys: km, withIDToken: withIDToken}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", u.discovery)
	mux.HandleFunc("/jwks", u.jwks)
	mux.HandleFunc("/token", u.token)
	mux.HandleFunc("/userinfo", u.userinfo)
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) discovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":            u.srv.URL,
		"token_endpoint":    u.srv.URL + "/token",
		"jwks_uri":          u.srv.URL + "/jwks",
		"userinfo_endpoint": u.srv.URL + "/userinfo",
	})
}

func (u *upstream) jwks(w http.ResponseWriter, _ *http.Request) {
	body, _ := u.keys.PublicJWKS()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (u *upstream) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.PostFormValue("username") != "alice" || r.PostFormValue("password") != "wonderland" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	resp := map[string]any{"access_token": "upstream-at", "token_type": "Bearer"}
	if u.withIDToken {
		signer, _ := u.keys.Signer("")
		now := time.Now()
		idToken, err := signer.Sign(jwt.Claims{
			jwt.ClaimIssuer:   u.srv.URL,
			jwt.ClaimSubject:  "upstream-alice",
			jwt.ClaimAudience: "kestrel-rp",
		}.SetTime(jwt.ClaimExpiresAt, now.Add(time.Minute)).SetTime(jwt.ClaimIssuedAt, now), jwt.TypeJWT)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp["id_token"] = idToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (u *upstream) userinfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer upstream-at" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"sub": "upstream-alice"})
}

func newProvider(t *testing.T, u *upstream) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{
		IssuerURL: u.srv.URL,
		ClientID:  "kestrel-rp",
	}, u.srv.Client())
	require.NoError(t, err)
	return p
}

func TestAuthenticateUserViaIDToken(t *testing.T) {
	t.Parallel()
	u := newUpstream(t, true)
	p := newProvider(t, u)

	sub, err := p.AuthenticateUser(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "upstream-alice", sub)
}

func TestAuthenticateUserViaUserInfo(t *testing.T) {
	t.Parallel()
	u := newUpstream(t, false)
	p := newProvider(t, u)

	sub, err := p.AuthenticateUser(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "upstream-alice", sub)
}

func TestAuthenticateUserBadCredentials(t *testing.T) {
	t.Parallel()
	u := newUpstream(t, true)
	p := newProvider(t, u)

	_, err := p.AuthenticateUser(context.Background(), "alice", "nope")
	assert.Error(t, err)
}

func TestDiscoveryIssuerMismatch(t *testing.T) {
	t.Parallel()
	u := newUpstream(t, true)

	p, err := New(context.Background(), Config{
		IssuerURL: u.srv.URL + "/tenant-b",
		ClientID:  "kestrel-rp",
	}, u.srv.Client())
	require.NoError(t, err)

	// The well-known path under /tenant-b does not exist upstream.
	_, err = p.AuthenticateUser(context.Background(), "alice", "wonderland")
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ClientID: "x"}, nil)
	assert.ErrorContains(t, err, "issuer_url")

	_, err = New(context.Background(), Config{IssuerURL: "https://idp.example"}, nil)
	assert.ErrorContains(t, err, "client_id")
}
