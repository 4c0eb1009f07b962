// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package routes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLiteral(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{}, nil)
	got, err := r.Resolve("/connect/token")
	require.NoError(t, err)
	assert.Equal(t, "/connect/token", got)
}

func TestResolveNested(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{
		"base":      "~/custom-connect",
		"authorize": "[route:base]/authorize",
	}, nil)

	got, err := r.Resolve("[route:authorize]")
	require.NoError(t, err)
	assert.Equal(t, "~/custom-connect/authorize", got)
}

func TestResolveFallback(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{}, nil)
	got, err := r.Resolve("[route:missing?/fallback]/x")
	require.NoError(t, err)
	assert.Equal(t, "/fallback/x", got)
}

func TestResolveFallbackIgnoredWhenKeyExists(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{"token": "/connect/token"}, nil)
	got, err := r.Resolve("[route:token?/other]")
	require.NoError(t, err)
	assert.Equal(t, "/connect/token", got)
}

func TestResolveUnknownRoute(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{}, nil)
	_, err := r.Resolve("[route:nope]")
	var unknown *ErrUnknownRoute
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Key)
}

func TestResolveCircularDependency(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{
		"a": "[route:b]",
		"b": "[route:a]",
	}, nil)

	_, err := r.Resolve("[route:a]")
	var circular *ErrCircularDependency
	require.ErrorAs(t, err, &circular)
}

func TestResolveSelfReference(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{"a": "x[route:a]"}, nil)
	_, err := r.Resolve("[route:a]")
	var circular *ErrCircularDependency
	require.ErrorAs(t, err, &circular)
	assert.Equal(t, "a", circular.Key)
}

func TestResolveSiblingReuseIsNotACycle(t *testing.T) {
	t.Parallel()

	// The same key twice in one template is legal; only re-entry during
	// expansion of that key is a cycle.
	r := NewResolver(map[string]string{"base": "/c"}, nil)
	got, err := r.Resolve("[route:base]/a[route:base]/b")
	require.NoError(t, err)
	assert.Equal(t, "/c/a/c/b", got)
}

func TestDefaultRoutesResolve(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultRoutes(), nil)
	for key, want := range map[string]string{
		KeyAuthorize:           "/connect/authorize",
		KeyToken:               "/connect/token",
		KeyUserInfo:            "/connect/userinfo",
		KeyIntrospect:          "/connect/introspect",
		KeyRevoke:              "/connect/revoke",
		KeyEndSession:          "/connect/endsession",
		KeyCheckSession:        "/connect/checksession",
		KeyPAR:                 "/connect/par",
		KeyDeviceAuthorization: "/connect/deviceauthorization",
		KeyBackchannelAuth:     "/connect/bc-authorize",
		KeyRegister:            "/connect/register",
		KeyDiscovery:           "/.well-known/openid-configuration",
		KeyJWKS:                "/.well-known/jwks",
	} {
		got, err := r.Path(key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestOverridesRelocateFamily(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultRoutes(), map[string]string{"base": "/oauth2"})
	got, err := r.Path(KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "/oauth2/token", got)
}

func TestResolveIsFixedPoint(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultRoutes(), nil)
	got, err := r.Path(KeyDeviceAuthorization)
	require.NoError(t, err)
	assert.NotContains(t, got, "[route:")

	again, err := r.Resolve(got)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.False(t, errors.Is(err, nil) && got == "")
}
