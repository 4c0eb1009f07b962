// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsaEncKey(t *testing.T) *jose.JSONWebKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: priv, KeyID: "enc-1", Algorithm: string(jose.RSA_OAEP_256), Use: "enc"}
}

func TestEncryptDecryptNestedJWT(t *testing.T) {
	t.Parallel()

	signKey := rsaKey(t, "sig-1")
	signer, err := NewSigner(signKey, jose.RS256)
	require.NoError(t, err)

	now := time.Now()
	signed, err := signer.Sign(baseClaims(now), TypeJWT)
	require.NoError(t, err)

	recipient := rsaEncKey(t)
	enc, err := NewEncrypter(&jose.JSONWebKey{Key: recipient.Key.(*rsa.PrivateKey).Public(), KeyID: recipient.KeyID}, jose.RSA_OAEP_256, jose.A256GCM)
	require.NoError(t, err)

	token, err := enc.EncryptJWT(signed)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 5)

	inner, err := Decrypt(token, recipient)
	require.NoError(t, err)
	assert.Equal(t, signed, inner)

	verified, err := NewVerifier([]jose.JSONWebKey{signKey.Public()}).Verify(inner, Expectations{
		Issuer:        "https://op.example.com",
		Audience:      "https://rp.example.com",
		RequireExpiry: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", verified.Claims.Subject())
}

func TestEncryptECDHKeyAgreement(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	recipient := &jose.JSONWebKey{Key: priv, KeyID: "ec-enc"}

	enc, err := NewEncrypter(&jose.JSONWebKey{Key: priv.Public(), KeyID: "ec-enc"}, jose.ECDH_ES_A128KW, jose.A128CBC_HS256)
	require.NoError(t, err)

	token, err := enc.EncryptJWT("header.payload.signature")
	require.NoError(t, err)

	inner, err := Decrypt(token, recipient)
	require.NoError(t, err)
	assert.Equal(t, "header.payload.signature", inner)
}

func TestNewEncrypterRejectsKeyAlgorithmMismatch(t *testing.T) {
	t.Parallel()

	ecPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = NewEncrypter(&jose.JSONWebKey{Key: ecPriv.Public()}, jose.RSA_OAEP_256, jose.A256GCM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an RSA key")

	_, err = NewEncrypter(nil, jose.RSA_OAEP_256, jose.A256GCM)
	require.Error(t, err)

	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = NewEncrypter(&jose.JSONWebKey{Key: rsaPriv.Public()}, jose.RSA_OAEP_256, jose.ContentEncryption("A128GCM"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported content encryption")
}

func TestDecryptRequiresPrivateKey(t *testing.T) {
	t.Parallel()

	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = Decrypt("a.b.c.d.e", &jose.JSONWebKey{Key: rsaPriv.Public()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}
