// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package logout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/keys"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwt"
)

const testIssuer = "https://auth.example.com"

type fixture struct {
	store   *storage.MemoryStorage
	keys    *keys.Manager
	issuer  *issuer.Issuer
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	km, err := keys.NewManager(context.Background(), keys.NewGeneratingProvider())
	require.NoError(t, err)
	iss := issuer.New(issuer.Config{Issuer: testIssuer}, km, store)

	return &fixture{
		store:   store,
		keys:    km,
		issuer:  iss,
		service: New(Config{Issuer: testIssuer}, store, iss, http.DefaultClient),
	}
}

func (f *fixture) registerClient(t *testing.T, c *client.Client) {
	t.Helper()
	require.NoError(t, f.store.CreateClient(context.Background(), c))
}

func (f *fixture) idTokenHint(t *testing.T, clientID, subject, sid string) string {
	t.Helper()

	token, err := f.issuer.IDToken(context.Background(),
		&storage.Grant{GrantID: "grant-1", ClientID: clientID, Subject: subject, SessionID: sid},
		&client.Client{ID: clientID},
		issuer.IDTokenOptions{})
	require.NoError(t, err)
	return token
}

func TestValidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerClient(t, &client.Client{
		ID:                     "rp-1",
		PostLogoutRedirectURIs: []string{"https://rp.example/bye"},
	})
	hint := f.idTokenHint(t, "rp-1", "alice", "sess-1")

	req, oerr := f.service.Validate(context.Background(), request.New(url.Values{
		request.ParamIDTokenHint:        {hint},
		request.ParamPostLogoutRedirect: {"https://rp.example/bye"},
		request.ParamState:              {"xyz"},
	}))
	require.Nil(t, oerr)

	assert.Equal(t, "rp-1", req.Client.ID)
	assert.Equal(t, "alice", req.Subject)
	assert.Equal(t, "sess-1", req.SessionID)
	assert.Equal(t, "https://rp.example/bye?state=xyz", req.RedirectURI())
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params func(f *fixture, t *testing.T) url.Values
		want   string
	}{
		{
			"garbage hint",
			func(*fixture, *testing.T) url.Values {
				return url.Values{request.ParamIDTokenHint: {"not-a-jwt"}}
			},
			"id_token_hint is invalid",
		},
		{
			"client_id audience mismatch",
			func(f *fixture, t *testing.T) url.Values {
				return url.Values{
					request.ParamIDTokenHint: {f.idTokenHint(t, "rp-1", "alice", "sess-1")},
					request.ParamClientID:    {"rp-2"},
				}
			},
			"does not match",
		},
		{
			"redirect without client",
			func(*fixture, *testing.T) url.Values {
				return url.Values{request.ParamPostLogoutRedirect: {"https://rp.example/bye"}}
			},
			"requires id_token_hint or client_id",
		},
		{
			"unregistered redirect",
			func(f *fixture, t *testing.T) url.Values {
				return url.Values{
					request.ParamClientID:           {"rp-1"},
					request.ParamPostLogoutRedirect: {"https://evil.example/"},
				}
			},
			"not registered",
		},
		{
			"unknown client_id",
			func(*fixture, *testing.T) url.Values {
				return url.Values{request.ParamClientID: {"ghost"}}
			},
			"unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.registerClient(t, &client.Client{
				ID:                     "rp-1",
				PostLogoutRedirectURIs: []string{"https://rp.example/bye"},
			})

			_, oerr := f.service.Validate(context.Background(), request.New(tt.params(f, t)))
			require.NotNil(t, oerr)
			assert.Contains(t, oerr.Description, tt.want)
		})
	}
}

func TestValidateAcceptsExpiredHint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerClient(t, &client.Client{ID: "rp-1"})

	// An ID token whose exp is long past still validates as a hint.
	signer, err := f.keys.Signer("")
	require.NoError(t, err)
	expired, err := signer.Sign(jwt.NewClaims().
		Set(jwt.ClaimIssuer, testIssuer).
		Set(jwt.ClaimAudience, "rp-1").
		Set(jwt.ClaimSubject, "alice").
		Set(jwt.ClaimSessionID, "sess-1").
		SetTime(jwt.ClaimIssuedAt, time.Now().Add(-2*time.Hour)).
		SetTime(jwt.ClaimExpiresAt, time.Now().Add(-time.Hour)), jwt.TypeJWT)
	require.NoError(t, err)

	req, oerr := f.service.Validate(context.Background(), request.New(url.Values{
		request.ParamIDTokenHint: {expired},
	}))
	require.Nil(t, oerr)
	assert.Equal(t, "alice", req.Subject)
	assert.Equal(t, "sess-1", req.SessionID)
}

func TestFrontChannelURIs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerClient(t, &client.Client{ID: "rp-1", FrontchannelLogoutURI: "https://rp1.example/fc-logout"})
	f.registerClient(t, &client.Client{ID: "rp-2"}) // no front-channel URI

	uris := f.service.FrontChannelURIs(context.Background(), &storage.Session{
		ID:        "sess-1",
		ClientIDs: []string{"rp-1", "rp-2", "rp-deleted"},
	})
	require.Len(t, uris, 1)

	u, err := url.Parse(uris[0])
	require.NoError(t, err)
	assert.Equal(t, testIssuer, u.Query().Get("iss"))
	assert.Equal(t, "sess-1", u.Query().Get("sid"))
}

func TestNotifyBackchannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		raw := r.PostForm.Get("logout_token")

		token, err := f.issuer.Verify(raw)
		require.NoError(t, err)
		assert.Equal(t, "sess-1", token.Claims.SessionID())
		events, ok := token.Claims["events"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, events, "http://schemas.openid.net/event/backchannel-logout")

		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(failing.Close)

	f.registerClient(t, &client.Client{ID: "rp-1", BackchannelLogoutURI: srv.URL})
	f.registerClient(t, &client.Client{ID: "rp-2", BackchannelLogoutURI: failing.URL})
	f.registerClient(t, &client.Client{ID: "rp-3"}) // nothing registered

	// A failing target does not prevent delivery to the others.
	f.service.NotifyBackchannel(context.Background(), &storage.Session{
		ID:        "sess-1",
		Subject:   "alice",
		ClientIDs: []string{"rp-1", "rp-2", "rp-3"},
	})
	assert.Equal(t, int32(1), delivered.Load())
}

func TestLogoutTokenShape(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	raw, err := f.issuer.LogoutToken(&client.Client{ID: "rp-1"}, "alice", "sess-1")
	require.NoError(t, err)

	token, err := f.issuer.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", token.Claims.Subject())
	assert.True(t, token.Claims.HasAudience("rp-1"))
	_, hasNonce := token.Claims[jwt.ClaimNonce]
	assert.False(t, hasNonce, "logout tokens must not carry a nonce")
}
