// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package jwt

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"slices"

	"github.com/go-jose/go-jose/v4"
)

// SupportedKeyManagementAlgorithms lists the JWE key management algorithms
// the server offers for encrypted responses.
var SupportedKeyManagementAlgorithms = []jose.KeyAlgorithm{
	jose.RSA_OAEP_256,
	jose.ECDH_ES_A128KW,
}

// SupportedContentEncryptions lists the JWE content encryption algorithms
// the server offers for encrypted responses.
var SupportedContentEncryptions = []jose.ContentEncryption{
	jose.A128CBC_HS256,
	jose.A256GCM,
}

// checkKeyForKeyAlgorithm rejects key material whose type does not match
// the key management algorithm family. Encryption only needs the public
// half, so private keys are accepted and used through their public part.
func checkKeyForKeyAlgorithm(alg jose.KeyAlgorithm, key any) error {
	switch alg {
	case jose.RSA_OAEP_256:
		switch key.(type) {
		case *rsa.PublicKey, *rsa.PrivateKey:
			return nil
		}
		return fmt.Errorf("algorithm %s requires an RSA key, got %T", alg, key)
	case jose.ECDH_ES_A128KW:
		switch key.(type) {
		case *ecdsa.PublicKey, *ecdsa.PrivateKey:
			return nil
		}
		return fmt.Errorf("algorithm %s requires an ECDSA key, got %T", alg, key)
	default:
		return fmt.Errorf("unsupported key management algorithm %q", alg)
	}
}

// Encrypter wraps signed tokens in a compact JWE addressed to a single
// recipient key. The nested-JWT headers (typ JWT, cty JWT) are set so
// verifiers unwrap the inner JWS (RFC 7519 §5.2).
type Encrypter struct {
	enc jose.Encrypter
}

// NewEncrypter creates an Encrypter for the recipient's JWK. The key's
// type must match the key management algorithm family.
func NewEncrypter(key *jose.JSONWebKey, alg jose.KeyAlgorithm, enc jose.ContentEncryption) (*Encrypter, error) {
	if key == nil {
		return nil, fmt.Errorf("encryption key is required")
	}
	if err := checkKeyForKeyAlgorithm(alg, key.Key); err != nil {
		return nil, err
	}
	if !slices.Contains(SupportedContentEncryptions, enc) {
		return nil, fmt.Errorf("unsupported content encryption %q", enc)
	}

	opts := (&jose.EncrypterOptions{}).
		WithType("JWT").
		WithContentType("JWT")
	encrypter, err := jose.NewEncrypter(enc, jose.Recipient{Algorithm: alg, Key: key}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to construct encrypter: %w", err)
	}
	return &Encrypter{enc: encrypter}, nil
}

// EncryptJWT wraps an already-signed compact JWS and returns the compact
// JWE serialization.
func (e *Encrypter) EncryptJWT(signed string) (string, error) {
	obj, err := e.enc.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}
	return obj.CompactSerialize()
}

// Decrypt unwraps a compact JWE with the recipient's private key and
// returns the nested payload, normally the inner compact JWS.
func Decrypt(token string, key *jose.JSONWebKey) (string, error) {
	if key == nil || !HasPrivateKey(key) {
		return "", fmt.Errorf("decryption requires a private key")
	}
	obj, err := jose.ParseEncrypted(token, SupportedKeyManagementAlgorithms, SupportedContentEncryptions)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	payload, err := obj.Decrypt(key.Key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return string(payload), nil
}
