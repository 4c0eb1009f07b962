// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// runStorageSuite exercises the Storage contract against a backend. Both
// implementations must pass it unchanged.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Helper()

	t.Run("Clients", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		c := &client.Client{
			ID:                      "rp-1",
			TokenEndpointAuthMethod: oauth.TokenEndpointAuthMethodBasic,
			RedirectURIs:            []string{"https://rp.example.com/cb"},
			GrantTypes:              []string{oauth.GrantTypeAuthorizationCode},
			Scopes:                  []string{"openid"},
		}

		require.NoError(t, s.CreateClient(ctx, c))
		assert.ErrorIs(t, s.CreateClient(ctx, c), ErrAlreadyExists)

		got, err := s.GetClient(ctx, "rp-1")
		require.NoError(t, err)
		assert.Equal(t, c.RedirectURIs, got.RedirectURIs)

		got.Scopes = append(got.Scopes, "profile")
		require.NoError(t, s.UpdateClient(ctx, got))

		got2, err := s.GetClient(ctx, "rp-1")
		require.NoError(t, err)
		assert.Contains(t, got2.Scopes, "profile")

		require.NoError(t, s.DeleteClient(ctx, "rp-1"))
		_, err = s.GetClient(ctx, "rp-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteClient(ctx, "rp-1"), ErrNotFound)
	})

	t.Run("CodeSingleUse", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		rec := &CodeRecord{
			Grant: Grant{
				GrantID:  "grant-1",
				ClientID: "rp-1",
				Subject:  "alice",
				Scopes:   []string{"openid"},
			},
			RedirectURI: "https://rp.example.com/cb",
			ExpiresAt:   time.Now().Add(time.Minute),
		}
		require.NoError(t, s.PutCode(ctx, "code-abc", rec))

		got, err := s.ConsumeCode(ctx, "code-abc")
		require.NoError(t, err)
		assert.Equal(t, "grant-1", got.Grant.GrantID)
		assert.Equal(t, "alice", got.Grant.Subject)

		// Second redemption reports the replay and returns the record so
		// the caller can revoke the grant.
		replayed, err := s.ConsumeCode(ctx, "code-abc")
		assert.ErrorIs(t, err, ErrCodeConsumed)
		require.NotNil(t, replayed)
		assert.Equal(t, "grant-1", replayed.Grant.GrantID)

		_, err = s.ConsumeCode(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PushedRequestSingleUse", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		uri := oauth.PARRequestURIPrefix + "abc123"
		rec := &PushedRequest{
			ClientID:  "rp-1",
			Params:    url.Values{"response_type": {"code"}, "scope": {"openid"}},
			ExpiresAt: time.Now().Add(time.Minute),
		}
		require.NoError(t, s.PutPushedRequest(ctx, uri, rec))

		got, err := s.ClaimPushedRequest(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, "code", got.Params.Get("response_type"))

		_, err = s.ClaimPushedRequest(ctx, uri)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeviceGrantLifecycle", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		rec := &DeviceAuthorization{
			DeviceCode: "dev-1",
			UserCode:   "BCDF-GHJK",
			ClientID:   "tv-app",
			Scopes:     []string{"openid"},
			Status:     DeviceStatusPending,
			Interval:   5,
			ExpiresAt:  time.Now().Add(time.Minute),
		}
		require.NoError(t, s.PutDeviceAuthorization(ctx, rec))

		// user_code collisions are rejected so a second grant can retry
		// with a fresh code.
		dup := *rec
		dup.DeviceCode = "dev-2"
		assert.ErrorIs(t, s.PutDeviceAuthorization(ctx, &dup), ErrAlreadyExists)

		byUser, err := s.GetDeviceAuthorizationByUserCode(ctx, "BCDF-GHJK")
		require.NoError(t, err)
		assert.Equal(t, "dev-1", byUser.DeviceCode)

		byUser.Status = DeviceStatusAuthorized
		byUser.Grant = &Grant{GrantID: "grant-dev", Subject: "alice", ClientID: "tv-app"}
		require.NoError(t, s.UpdateDeviceAuthorization(ctx, byUser))

		got, err := s.GetDeviceAuthorization(ctx, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, DeviceStatusAuthorized, got.Status)
		require.NotNil(t, got.Grant)
		assert.Equal(t, "alice", got.Grant.Subject)

		require.NoError(t, s.DeleteDeviceAuthorization(ctx, "dev-1"))
		_, err = s.GetDeviceAuthorizationByUserCode(ctx, "BCDF-GHJK")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("BackchannelRequestLifecycle", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		rec := &BackchannelAuthRequest{
			AuthReqID: "bc-1",
			ClientID:  "rp-1",
			LoginHint: "alice@example.com",
			Status:    DeviceStatusPending,
			Interval:  5,
			ExpiresAt: time.Now().Add(time.Minute),
		}
		require.NoError(t, s.PutBackchannelRequest(ctx, rec))

		got, err := s.GetBackchannelRequest(ctx, "bc-1")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got.LoginHint)

		got.Status = DeviceStatusDenied
		require.NoError(t, s.UpdateBackchannelRequest(ctx, got))

		got, err = s.GetBackchannelRequest(ctx, "bc-1")
		require.NoError(t, err)
		assert.Equal(t, DeviceStatusDenied, got.Status)

		require.NoError(t, s.DeleteBackchannelRequest(ctx, "bc-1"))
		_, err = s.GetBackchannelRequest(ctx, "bc-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SessionLifecycle", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		sess := &Session{
			ID:        "sid-1",
			Subject:   "alice",
			ClientIDs: []string{"rp-1"},
			AuthTime:  time.Now().Truncate(time.Second),
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, s.PutSession(ctx, sess))

		got, err := s.GetSession(ctx, "sid-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Subject)

		got.ClientIDs = append(got.ClientIDs, "rp-2")
		require.NoError(t, s.UpdateSession(ctx, got))

		got, err = s.GetSession(ctx, "sid-1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"rp-1", "rp-2"}, got.ClientIDs)

		require.NoError(t, s.DeleteSession(ctx, "sid-1"))
		_, err = s.GetSession(ctx, "sid-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("TokenRegistry", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		exp := time.Now().Add(time.Hour)
		require.NoError(t, s.RegisterToken(ctx, "jti-at", &TokenRecord{Status: StatusIssued, GrantID: "g1", ExpiresAt: exp}))
		require.NoError(t, s.RegisterToken(ctx, "jti-rt", &TokenRecord{Status: StatusIssued, GrantID: "g1", ExpiresAt: exp}))
		require.NoError(t, s.RegisterToken(ctx, "jti-other", &TokenRecord{Status: StatusIssued, GrantID: "g2", ExpiresAt: exp}))

		status, err := s.TokenStatus(ctx, "jti-at")
		require.NoError(t, err)
		assert.Equal(t, StatusIssued, status)

		status, err = s.TokenStatus(ctx, "never-issued")
		require.NoError(t, err)
		assert.Equal(t, StatusUnknown, status)

		require.NoError(t, s.SetTokenStatus(ctx, "jti-rt", StatusUsed))
		status, err = s.TokenStatus(ctx, "jti-rt")
		require.NoError(t, err)
		assert.Equal(t, StatusUsed, status)

		// Revoking the grant flips every member but leaves other grants
		// untouched.
		require.NoError(t, s.RevokeGrant(ctx, "g1"))
		for _, jti := range []string{"jti-at", "jti-rt"} {
			status, err = s.TokenStatus(ctx, jti)
			require.NoError(t, err)
			assert.Equal(t, StatusRevoked, status)
		}
		status, err = s.TokenStatus(ctx, "jti-other")
		require.NoError(t, err)
		assert.Equal(t, StatusIssued, status)

		assert.ErrorIs(t, s.SetTokenStatus(ctx, "never-issued", StatusRevoked), ErrNotFound)
	})

	t.Run("AssertionReplay", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		exp := time.Now().Add(time.Minute)
		first, err := s.ObserveAssertion(ctx, "assert-1", exp)
		require.NoError(t, err)
		assert.True(t, first)

		second, err := s.ObserveAssertion(ctx, "assert-1", exp)
		require.NoError(t, err)
		assert.False(t, second)
	})
}
