// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package ciba

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
)

type fakeAuthenticator struct {
	started []string
	fail    bool
}

func (f *fakeAuthenticator) StartAuthentication(_ context.Context, authReqID, _, _ string) error {
	if f.fail {
		return assert.AnError
	}
	f.started = append(f.started, authReqID)
	return nil
}

func newService(t *testing.T) (*Service, *storage.MemoryStorage, *fakeAuthenticator) {
	t.Helper()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	auth := &fakeAuthenticator{}
	return New(Config{}, store, auth), store, auth
}

func cibaClient() *client.Client {
	return &client.Client{ID: "rp-1", Scopes: []string{"openid"}}
}

func initiateParams() url.Values {
	return url.Values{
		request.ParamScope:     {"openid"},
		request.ParamLoginHint: {"alice@example.com"},
	}
}

func TestInitiate(t *testing.T) {
	t.Parallel()

	s, store, auth := newService(t)
	resp, oerr := s.Initiate(context.Background(), cibaClient(), request.New(initiateParams()))
	require.Nil(t, oerr)

	assert.NotEmpty(t, resp.AuthReqID)
	assert.Equal(t, int64(120), resp.ExpiresIn)
	assert.Equal(t, int64(5), resp.Interval)
	assert.Equal(t, []string{resp.AuthReqID}, auth.started)

	rec, err := store.GetBackchannelRequest(context.Background(), resp.AuthReqID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeviceStatusPending, rec.Status)
	assert.Equal(t, "alice@example.com", rec.LoginHint)
}

func TestInitiateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(url.Values)
		code   oidcerr.Code
	}{
		{
			"no hint",
			func(p url.Values) { p.Del(request.ParamLoginHint) },
			oidcerr.CodeInvalidRequest,
		},
		{
			"two hints",
			func(p url.Values) { p.Set(request.ParamIDTokenHint, "eyJ...") },
			oidcerr.CodeInvalidRequest,
		},
		{
			"oversized binding message",
			func(p url.Values) { p.Set(request.ParamBindingMessage, strings.Repeat("x", 141)) },
			oidcerr.CodeInvalidBindingMessage,
		},
		{
			"unregistered scope",
			func(p url.Values) { p.Set(request.ParamScope, "openid admin") },
			oidcerr.CodeInvalidScope,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _, _ := newService(t)
			params := initiateParams()
			tt.mutate(params)

			_, oerr := s.Initiate(context.Background(), cibaClient(), request.New(params))
			require.NotNil(t, oerr)
			assert.Equal(t, tt.code, oerr.Code)
		})
	}
}

func TestInitiateUnknownUser(t *testing.T) {
	t.Parallel()

	s, store, auth := newService(t)
	auth.fail = true

	_, oerr := s.Initiate(context.Background(), cibaClient(), request.New(initiateParams()))
	require.NotNil(t, oerr)
	assert.Equal(t, oidcerr.CodeUnknownUserID, oerr.Code)

	// The stored request was rolled back.
	assert.Zero(t, store.Stats().BackchannelRequests)
}

func TestInitiateWithoutAuthenticator(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	s := New(Config{}, store, nil)

	_, oerr := s.Initiate(context.Background(), cibaClient(), request.New(initiateParams()))
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "not available")
}

func TestCompleteAndDeny(t *testing.T) {
	t.Parallel()

	t.Run("complete", func(t *testing.T) {
		t.Parallel()
		s, store, _ := newService(t)
		resp, oerr := s.Initiate(context.Background(), cibaClient(), request.New(initiateParams()))
		require.Nil(t, oerr)

		grant := &storage.Grant{GrantID: "grant-1", ClientID: "rp-1", Subject: "alice"}
		require.NoError(t, s.Complete(context.Background(), resp.AuthReqID, grant))

		rec, err := store.GetBackchannelRequest(context.Background(), resp.AuthReqID)
		require.NoError(t, err)
		assert.Equal(t, storage.DeviceStatusAuthorized, rec.Status)
		require.NotNil(t, rec.Grant)
		assert.Equal(t, "alice", rec.Grant.Subject)

		// A decided request cannot be decided again.
		assert.ErrorIs(t, s.Deny(context.Background(), resp.AuthReqID), storage.ErrNotFound)
	})

	t.Run("deny", func(t *testing.T) {
		t.Parallel()
		s, store, _ := newService(t)
		resp, oerr := s.Initiate(context.Background(), cibaClient(), request.New(initiateParams()))
		require.Nil(t, oerr)

		require.NoError(t, s.Deny(context.Background(), resp.AuthReqID))

		rec, err := store.GetBackchannelRequest(context.Background(), resp.AuthReqID)
		require.NoError(t, err)
		assert.Equal(t, storage.DeviceStatusDenied, rec.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newService(t)
		assert.ErrorIs(t, s.Complete(context.Background(), "missing", &storage.Grant{}), storage.ErrNotFound)
	})
}
