// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsaKey(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: priv, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

func ecKey(t *testing.T, kid string, curve elliptic.Curve, alg string) *jose.JSONWebKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: priv, KeyID: kid, Algorithm: alg, Use: "sig"}
}

func baseClaims(now time.Time) Claims {
	return NewClaims().
		Set(ClaimIssuer, "https://op.example.com").
		Set(ClaimSubject, "user-1").
		Set(ClaimAudience, []string{"https://rp.example.com"}).
		Set(ClaimClientID, "client-1").
		SetTime(ClaimIssuedAt, now).
		SetTime(ClaimExpiresAt, now.Add(time.Hour))
}

func TestSignVerifyRoundTripRS256(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	now := time.Now()
	token, err := signer.Sign(baseClaims(now), TypeAccessToken)
	require.NoError(t, err)

	v := NewVerifier([]jose.JSONWebKey{*key})
	parsed, err := v.Verify(token, Expectations{
		Issuer:   "https://op.example.com",
		Audience: "https://rp.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", parsed.Claims.Subject())
	assert.Equal(t, "client-1", parsed.Claims.ClientID())
	assert.Equal(t, "kid-1", parsed.Header.KeyID)
}

func TestECDSASignatureLengths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		alg     jose.SignatureAlgorithm
		curve   elliptic.Curve
		sigLen  int
		algName string
	}{
		{jose.ES256, elliptic.P256(), 64, "ES256"},
		{jose.ES384, elliptic.P384(), 96, "ES384"},
		{jose.ES512, elliptic.P521(), 132, "ES512"},
	}

	for _, tc := range cases {
		t.Run(tc.algName, func(t *testing.T) {
			t.Parallel()

			key := ecKey(t, "ec-"+tc.algName, tc.curve, tc.algName)
			signer, err := NewSigner(key, tc.alg)
			require.NoError(t, err)

			token, err := signer.Sign(baseClaims(time.Now()), TypeJWT)
			require.NoError(t, err)

			parts := strings.Split(token, ".")
			require.Len(t, parts, 3)
			sig, err := base64.RawURLEncoding.DecodeString(parts[2])
			require.NoError(t, err)
			// Raw R||S concatenation, not DER.
			assert.Len(t, sig, tc.sigLen)
			assert.Equal(t, tc.sigLen, ECDSASignatureLength(tc.alg))
		})
	}
}

func TestSignerRejectsKeyAlgorithmMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewSigner(rsaKey(t, "k"), jose.ES256)
	require.Error(t, err)

	_, err = NewSigner(ecKey(t, "k", elliptic.P256(), "ES256"), jose.RS256)
	require.Error(t, err)

	// ES384 with a P-256 key must fail.
	_, err = NewSigner(ecKey(t, "k", elliptic.P256(), "ES256"), jose.ES384)
	require.Error(t, err)

	_, err = NewSymmetricSigner([]byte("0123456789abcdef0123456789abcdef"), jose.RS256)
	require.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	now := time.Now()
	claims := baseClaims(now).SetTime(ClaimExpiresAt, now.Add(-10*time.Minute))
	token, err := signer.Sign(claims, TypeJWT)
	require.NoError(t, err)

	_, err = NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{})
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyExpiryWithinSkewAccepted(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	now := time.Now()
	claims := baseClaims(now).SetTime(ClaimExpiresAt, now.Add(-30*time.Second))
	token, err := signer.Sign(claims, TypeJWT)
	require.NoError(t, err)

	_, err = NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{})
	require.NoError(t, err)
}

func TestVerifyNotYetValid(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	now := time.Now()
	claims := baseClaims(now).SetTime(ClaimNotBefore, now.Add(10*time.Minute))
	token, err := signer.Sign(claims, TypeJWT)
	require.NoError(t, err)

	_, err = NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{})
	require.ErrorIs(t, err, ErrTokenNotYetValid)
}

func TestVerifyFutureIATRejected(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	now := time.Now()
	claims := baseClaims(now).SetTime(ClaimIssuedAt, now.Add(10*time.Minute))
	token, err := signer.Sign(claims, TypeJWT)
	require.NoError(t, err)

	_, err = NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{})
	require.ErrorIs(t, err, ErrTokenNotYetValid)
}

func TestVerifyWrongIssuerAndAudience(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	token, err := signer.Sign(baseClaims(time.Now()), TypeJWT)
	require.NoError(t, err)

	v := NewVerifier([]jose.JSONWebKey{*key})

	_, err = v.Verify(token, Expectations{Issuer: "https://other.example.com"})
	require.ErrorIs(t, err, ErrInvalidIssuer)

	_, err = v.Verify(token, Expectations{Audience: "https://other-rp.example.com"})
	require.ErrorIs(t, err, ErrInvalidAudience)
}

func TestVerifyUnknownKid(t *testing.T) {
	t.Parallel()

	signKey := rsaKey(t, "kid-signing")
	signer, err := NewSigner(signKey, jose.RS256)
	require.NoError(t, err)

	token, err := signer.Sign(baseClaims(time.Now()), TypeJWT)
	require.NoError(t, err)

	other := rsaKey(t, "kid-other")
	_, err = NewVerifier([]jose.JSONWebKey{*other}).Verify(token, Expectations{})
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerifyNoKidTriesCompatibleKeys(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signKey := &jose.JSONWebKey{Key: priv} // no kid

	signer, err := NewSigner(signKey, jose.RS256)
	require.NoError(t, err)
	token, err := signer.Sign(baseClaims(time.Now()), TypeJWT)
	require.NoError(t, err)

	decoy := ecKey(t, "", elliptic.P256(), "ES256")
	v := NewVerifier([]jose.JSONWebKey{
		{Key: decoy.Key},
		{Key: priv},
	})
	_, err = v.Verify(token, Expectations{})
	require.NoError(t, err)
}

func TestVerifyTamperedSignature(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	token, err := signer.Sign(baseClaims(time.Now()), TypeJWT)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(make([]byte, 256))

	_, err = NewVerifier([]jose.JSONWebKey{*key}).Verify(tampered, Expectations{})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	t.Parallel()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-1"}`))
	token := header + "." + payload + "."

	key := rsaKey(t, "kid-1")
	_, err := NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{})
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerifyRejectsAlgorithmOutsideExpectedFamily(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)
	token, err := signer.Sign(baseClaims(time.Now()), TypeJWT)
	require.NoError(t, err)

	_, err = NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{
		Algorithms: []jose.SignatureAlgorithm{jose.ES256},
	})
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestClaimsAudienceForms(t *testing.T) {
	t.Parallel()

	c := NewClaims().Set(ClaimAudience, "https://one.example.com")
	assert.Equal(t, []string{"https://one.example.com"}, c.Audience())

	c = NewClaims().Set(ClaimAudience, []any{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, c.Audience())
	assert.True(t, c.HasAudience("b"))
	assert.False(t, c.HasAudience("c"))
}

func TestClaimsMultiValuedAMRSurvivesRoundTrip(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	signer, err := NewSigner(key, jose.RS256)
	require.NoError(t, err)

	claims := baseClaims(time.Now()).Set(ClaimAMR, []string{"pwd", "otp"})
	token, err := signer.Sign(claims, TypeJWT)
	require.NoError(t, err)

	parsed, err := NewVerifier([]jose.JSONWebKey{*key}).Verify(token, Expectations{})
	require.NoError(t, err)
	assert.Equal(t, []string{"pwd", "otp"}, parsed.Claims.AMR())
}

func TestJWKSanitize(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "kid-1")
	assert.True(t, HasPrivateKey(key))
	assert.True(t, HasPublicKey(key))

	public := Sanitize(key, false)
	assert.False(t, HasPrivateKey(&public))
	assert.Equal(t, "kid-1", public.KeyID)

	withPrivate := Sanitize(key, true)
	assert.True(t, HasPrivateKey(&withPrivate))

	sym := &jose.JSONWebKey{Key: []byte("secret-secret-secret-secret-1234")}
	assert.True(t, HasPrivateKey(sym))
	assert.False(t, HasPublicKey(sym))
	assert.Nil(t, Sanitize(sym, false).Key)
}

func TestJWKSRoundTrip(t *testing.T) {
	t.Parallel()

	keys := []jose.JSONWebKey{*rsaKey(t, "a"), *ecKey(t, "b", elliptic.P256(), "ES256")}

	data, err := MarshalJWKS(keys, true)
	require.NoError(t, err)

	set, err := UnmarshalJWKS(data)
	require.NoError(t, err)
	require.Len(t, set.Keys, 2)
	assert.Equal(t, "a", set.Keys[0].KeyID)
	assert.True(t, HasPrivateKey(&set.Keys[0]))

	// Public serialization must carry no private material and must drop
	// symmetric keys entirely.
	withSym := append(keys, jose.JSONWebKey{Key: []byte("0123456789abcdef0123456789abcdef")})
	pub, err := MarshalJWKS(withSym, false)
	require.NoError(t, err)
	assert.NotContains(t, string(pub), `"d"`)
	assert.NotContains(t, string(pub), `"k"`)

	pubSet, err := UnmarshalJWKS(pub)
	require.NoError(t, err)
	require.Len(t, pubSet.Keys, 2)
	for i := range pubSet.Keys {
		assert.False(t, HasPrivateKey(&pubSet.Keys[i]))
	}
	assert.Contains(t, string(pub), `"kty"`)
}

func TestThumbprintStableKid(t *testing.T) {
	t.Parallel()

	key := rsaKey(t, "")
	tp1, err := Thumbprint(key)
	require.NoError(t, err)

	public := Sanitize(key, false)
	tp2, err := Thumbprint(&public)
	require.NoError(t, err)

	assert.Equal(t, tp1, tp2)
	assert.NotEmpty(t, tp1)
	assert.NotContains(t, tp1, "=")
}
