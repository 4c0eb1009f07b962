// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// HasPrivateKey reports whether the key carries private components.
// Symmetric (oct) keys always count as private.
func HasPrivateKey(key *jose.JSONWebKey) bool {
	switch key.Key.(type) {
	case []byte:
		return true
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		return true
	default:
		return false
	}
}

// HasPublicKey reports whether a public part can be derived from the key.
// False for symmetric keys, which have no publishable form.
func HasPublicKey(key *jose.JSONWebKey) bool {
	switch key.Key.(type) {
	case []byte:
		return false
	case nil:
		return false
	default:
		return true
	}
}

// Sanitize returns a copy of the key that either keeps or strips the
// private components. Stripping a symmetric key yields an empty key since
// oct keys have no public form.
func Sanitize(key *jose.JSONWebKey, includePrivate bool) jose.JSONWebKey {
	if includePrivate {
		return *key
	}
	if !HasPublicKey(key) {
		return jose.JSONWebKey{}
	}
	if key.IsPublic() {
		return *key
	}
	return key.Public()
}

// Thumbprint returns the base64url RFC 7638 SHA-256 thumbprint of the key,
// used as the default kid.
func Thumbprint(key *jose.JSONWebKey) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// MarshalJWKS serializes a key set. When includePrivate is false every key
// is sanitized first and symmetric keys are dropped.
func MarshalJWKS(keys []jose.JSONWebKey, includePrivate bool) ([]byte, error) {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for i := range keys {
		if !includePrivate {
			if !HasPublicKey(&keys[i]) {
				continue
			}
			set.Keys = append(set.Keys, Sanitize(&keys[i], false))
			continue
		}
		set.Keys = append(set.Keys, keys[i])
	}
	return json.Marshal(&set)
}

// UnmarshalJWKS parses a JWKS document. Unknown key types inside the set
// are rejected by go-jose's kty-dispatched decoding.
func UnmarshalJWKS(data []byte) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return &set, nil
}
