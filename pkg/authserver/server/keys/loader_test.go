// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeECKeyPKCS8(t *testing.T, curve elliptic.Curve) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return writePEM(t, "PRIVATE KEY", der)
}

func writeECKeySEC1(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return writePEM(t, "EC PRIVATE KEY", der)
}

func writeRSAKeyPKCS1(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return writePEM(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
}

func writePEM(t *testing.T, blockType string, der []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadSigningKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantType any
	}{
		{"ec pkcs8", func(t *testing.T) string { return writeECKeyPKCS8(t, elliptic.P256()) }, &ecdsa.PrivateKey{}},
		{"ec sec1", writeECKeySEC1, &ecdsa.PrivateKey{}},
		{"rsa pkcs1", writeRSAKeyPKCS1, &rsa.PrivateKey{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key, err := LoadSigningKey(tt.path(t))
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, key)
		})
	}
}

func TestLoadSigningKeyErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadSigningKey(filepath.Join(t.TempDir(), "missing.pem"))
	assert.ErrorContains(t, err, "failed to read signing key")

	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0o600))
	_, err = LoadSigningKey(path)
	assert.ErrorContains(t, err, "failed to decode PEM block")
}

func TestDeriveAlgorithm(t *testing.T) {
	t.Parallel()

	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  crypto.Signer
		want jose.SignatureAlgorithm
	}{
		{"p256", p256, jose.ES256},
		{"p384", p384, jose.ES384},
		{"rsa", rsaKey, jose.RS256},
	}
	for _, tt := range tests {
		alg, err := DeriveAlgorithm(tt.key)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, alg, tt.name)
	}
}

func TestKeyDataDerivesAndValidates(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	data, err := KeyData(key, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, data.KeyID)
	assert.Equal(t, jose.ES256, data.Algorithm)

	// Same key, same thumbprint.
	again, err := KeyData(key, "", "")
	require.NoError(t, err)
	assert.Equal(t, data.KeyID, again.KeyID)

	// An explicit kid is kept verbatim.
	named, err := KeyData(key, "signing-2026", "")
	require.NoError(t, err)
	assert.Equal(t, "signing-2026", named.KeyID)

	// ES384 does not fit a P-256 key.
	_, err = KeyData(key, "", jose.ES384)
	assert.ErrorContains(t, err, "not compatible")
}

func TestKeyDataRSAAlgorithms(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	for _, alg := range []jose.SignatureAlgorithm{jose.RS256, jose.PS256, jose.RS512} {
		data, err := KeyData(key, "", alg)
		require.NoError(t, err)
		assert.Equal(t, alg, data.Algorithm)
	}

	_, err = KeyData(key, "", jose.ES256)
	assert.ErrorContains(t, err, "not compatible")
}
