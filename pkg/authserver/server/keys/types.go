// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the server's token signing keys: loading from PEM
// files, static registration, ephemeral generation, and rotation. The
// Manager on top serves signers and the public JWKS from an immutable
// snapshot.
package keys

import (
	"crypto"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// DefaultAlgorithm is the signing algorithm for generated keys. ES256
// matches RSA-3072 security with smaller keys and faster operations.
const DefaultAlgorithm = jose.ES256

// SigningKeyData is a private signing key with its metadata. It must never
// be exposed outside the process.
type SigningKeyData struct {
	// KeyID is the RFC 7638 thumbprint unless configured explicitly.
	KeyID string

	Algorithm jose.SignatureAlgorithm

	Key crypto.Signer

	CreatedAt time.Time
}

// JWK wraps the private key as a JOSE key for signing.
func (d *SigningKeyData) JWK() *jose.JSONWebKey {
	return &jose.JSONWebKey{
		Key:       d.Key,
		KeyID:     d.KeyID,
		Algorithm: string(d.Algorithm),
		Use:       "sig",
	}
}

// PublicKeyData is the public portion of a signing key, safe to expose via
// the JWKS endpoint.
type PublicKeyData struct {
	KeyID string

	Algorithm jose.SignatureAlgorithm

	PublicKey crypto.PublicKey

	CreatedAt time.Time
}

// JWK wraps the public key as a JOSE key for the JWKS document.
func (d *PublicKeyData) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       d.PublicKey,
		KeyID:     d.KeyID,
		Algorithm: string(d.Algorithm),
		Use:       "sig",
	}
}
