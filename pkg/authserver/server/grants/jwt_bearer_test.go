// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// bearerFixture hosts a trusted issuer's JWKS on a local server and wires
// a JWTBearer processor against it.
type bearerFixture struct {
	*fixture
	signer    *jwt.Signer
	processor *JWTBearer
}

func newBearerFixture(t *testing.T) *bearerFixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	webKey := &jose.JSONWebKey{Key: key, KeyID: "ext-key", Algorithm: string(jose.ES256), Use: "sig"}

	signer, err := jwt.NewSigner(webKey, jose.ES256)
	require.NoError(t, err)

	jwksDoc, err := jwt.MarshalJWKS([]jose.JSONWebKey{webKey.Public()}, false)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksDoc)
	}))
	t.Cleanup(srv.Close)

	remote, err := jwks.New(context.Background(), srv.Client())
	require.NoError(t, err)

	f := newFixture(t)
	return &bearerFixture{
		fixture: f,
		signer:  signer,
		processor: &JWTBearer{
			Audience: testIssuer,
			TrustedIssuers: []TrustedIssuer{
				{Issuer: "https://partner.example.com", JWKSURI: srv.URL + "/jwks"},
			},
			RemoteKeys: remote,
			Replay:     f.store,
			Issuer:     f.issuer,
		},
	}
}

func (bf *bearerFixture) assertion(t *testing.T, mutate func(jwt.Claims)) string {
	t.Helper()

	claims := jwt.NewClaims().
		Set(jwt.ClaimIssuer, "https://partner.example.com").
		Set(jwt.ClaimAudience, testIssuer).
		Set(jwt.ClaimSubject, "employee-7").
		Set(jwt.ClaimJTI, "assert-1").
		SetTime(jwt.ClaimExpiresAt, time.Now().Add(5*time.Minute))
	if mutate != nil {
		mutate(claims)
	}
	token, err := bf.signer.Sign(claims, "JWT")
	require.NoError(t, err)
	return token
}

func bearerClient() url.Values {
	return url.Values{request.ParamGrantType: {oauth.GrantTypeJWTBearer}}
}

func TestJWTBearerExchange(t *testing.T) {
	t.Parallel()

	bf := newBearerFixture(t)
	c := machineClient()
	c.GrantTypes = []string{oauth.GrantTypeJWTBearer}

	params := bearerClient()
	params.Set(request.ParamAssertion, bf.assertion(t, nil))
	params.Set(request.ParamScope, "orders:read")

	resp, oerr := bf.processor.Process(context.Background(), tokenRequest(c, params))
	require.Nil(t, oerr)
	assert.Empty(t, resp.RefreshToken)
	assert.Equal(t, "orders:read", resp.Scope)

	token, err := bf.issuer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "employee-7", token.Claims.Subject())

	// The jti is single-use.
	replay := bearerClient()
	replay.Set(request.ParamAssertion, bf.assertion(t, nil))
	_, oerr = bf.processor.Process(context.Background(), tokenRequest(c, replay))
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "already used")
}

func TestJWTBearerRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(jwt.Claims)
		want   string
	}{
		{
			"untrusted issuer",
			func(c jwt.Claims) { c.Set(jwt.ClaimIssuer, "https://stranger.example.com") },
			"not trusted",
		},
		{
			"wrong audience",
			func(c jwt.Claims) { c.Set(jwt.ClaimAudience, "https://other-as.example.com") },
			"verification failed",
		},
		{
			"expired",
			func(c jwt.Claims) { c.SetTime(jwt.ClaimExpiresAt, time.Now().Add(-5*time.Minute)) },
			"verification failed",
		},
		{
			"missing sub",
			func(c jwt.Claims) { delete(c, jwt.ClaimSubject) },
			"sub claim",
		},
		{
			"missing jti",
			func(c jwt.Claims) { delete(c, jwt.ClaimJTI) },
			"jti claim",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bf := newBearerFixture(t)
			c := machineClient()
			c.GrantTypes = []string{oauth.GrantTypeJWTBearer}

			params := bearerClient()
			params.Set(request.ParamAssertion, bf.assertion(t, tt.mutate))

			_, oerr := bf.processor.Process(context.Background(), tokenRequest(c, params))
			require.NotNil(t, oerr)
			assert.Equal(t, oidcerr.CodeInvalidGrant, oerr.Code)
			assert.Contains(t, oerr.Description, tt.want)
		})
	}
}

func TestJWTBearerMissingAssertion(t *testing.T) {
	t.Parallel()

	bf := newBearerFixture(t)
	_, oerr := bf.processor.Process(context.Background(), tokenRequest(machineClient(), bearerClient()))
	require.NotNil(t, oerr)
	assert.Contains(t, oerr.Description, "assertion is required")
}
