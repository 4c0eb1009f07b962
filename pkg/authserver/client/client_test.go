// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauth/kestrel/pkg/oauth"
)

func validClient() *Client {
	return &Client{
		ID:                      "client-1",
		TokenEndpointAuthMethod: oauth.TokenEndpointAuthMethodBasic,
		RedirectURIs:            []string{"https://rp.example.com/cb"},
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode},
		Scopes:                  []string{"openid", "profile"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validClient().Validate())

	c := validClient()
	c.ID = ""
	assert.Error(t, c.Validate())

	c = validClient()
	c.RedirectURIs = []string{"/relative"}
	assert.Error(t, c.Validate())

	c = validClient()
	c.RedirectURIs = []string{"https://rp.example.com/cb#frag"}
	assert.Error(t, c.Validate())
}

func TestValidatePairwiseRequiresSector(t *testing.T) {
	t.Parallel()

	c := validClient()
	c.SubjectType = oauth.SubjectTypePairwise
	c.RedirectURIs = []string{"https://a.example.com/cb", "https://b.example.com/cb"}
	assert.Error(t, c.Validate())

	c.SectorIdentifierURI = "https://a.example.com/sector.json"
	assert.NoError(t, c.Validate())
	assert.Equal(t, "a.example.com", c.SectorIdentifier())
}

func TestValidateCertificateBoundTokens(t *testing.T) {
	t.Parallel()

	c := validClient()
	c.CertificateBoundTokens = true
	assert.Error(t, c.Validate())

	c.TokenEndpointAuthMethod = oauth.TokenEndpointAuthMethodTLSClientAuth
	assert.Error(t, c.Validate()) // missing TLS metadata

	c.TLS = &TLSClientAuth{SubjectDN: "CN=client-1"}
	assert.NoError(t, c.Validate())
}

func TestAllowsResponseTypeOrderInsensitive(t *testing.T) {
	t.Parallel()

	c := validClient()
	c.ResponseTypes = []string{"code id_token"}
	assert.True(t, c.AllowsResponseType("id_token code"))
	assert.True(t, c.AllowsResponseType("code id_token"))
	assert.False(t, c.AllowsResponseType("code"))
}

func TestAllowsRedirectURIExactMatch(t *testing.T) {
	t.Parallel()

	c := validClient()
	assert.True(t, c.AllowsRedirectURI("https://rp.example.com/cb"))
	assert.False(t, c.AllowsRedirectURI("https://rp.example.com/cb/"))
	assert.False(t, c.AllowsRedirectURI("https://rp.example.com/other"))
}

func TestCheckSecret(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("s3cret", SecretHashSHA256)
	require.NoError(t, err)

	c := validClient()
	c.Secret = &Secret{Hash: hash, Algorithm: SecretHashSHA256}

	now := time.Now()
	assert.True(t, c.CheckSecret("s3cret", now))
	assert.False(t, c.CheckSecret("wrong", now))

	c.Secret.ExpiresAt = now.Add(-time.Minute)
	assert.False(t, c.CheckSecret("s3cret", now))
}

func TestHashSecretAlgorithms(t *testing.T) {
	t.Parallel()

	h256, err := HashSecret("s3cret", SecretHashSHA256)
	require.NoError(t, err)
	h512, err := HashSecret("s3cret", SecretHashSHA512)
	require.NoError(t, err)
	assert.NotEqual(t, h256, h512)

	_, err = HashSecret("s3cret", "md5")
	assert.Error(t, err)

	c := validClient()
	c.Secret = &Secret{Hash: h512, Algorithm: SecretHashSHA512}
	assert.True(t, c.CheckSecret("s3cret", time.Now()))
}

func TestPublic(t *testing.T) {
	t.Parallel()

	c := validClient()
	assert.False(t, c.Public())
	c.TokenEndpointAuthMethod = oauth.TokenEndpointAuthMethodNone
	assert.True(t, c.Public())
}
