// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// HeaderType is the JOSE "typ" header value.
type HeaderType string

// Token typ values used by the server.
const (
	TypeJWT          HeaderType = "JWT"
	TypeAccessToken  HeaderType = "at+jwt"
	TypeRefreshToken HeaderType = "refresh+jwt"
	TypeLogoutToken  HeaderType = "logout+jwt"
	TypeJARM         HeaderType = "oauth-authz-res+jwt"
)

// SupportedSignatureAlgorithms lists every JWS algorithm the server can
// sign and verify with. "none" is deliberately absent.
var SupportedSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
}

// ecdsaCurves maps ES algorithms to their required curve.
var ecdsaCurves = map[jose.SignatureAlgorithm]elliptic.Curve{
	jose.ES256: elliptic.P256(),
	jose.ES384: elliptic.P384(),
	jose.ES512: elliptic.P521(),
}

// ECDSASignatureLength returns the fixed IEEE-P1363 R‖S signature length
// in bytes for an ES algorithm, or 0 for non-ECDSA algorithms.
func ECDSASignatureLength(alg jose.SignatureAlgorithm) int {
	switch alg {
	case jose.ES256:
		return 64
	case jose.ES384:
		return 96
	case jose.ES512:
		return 132
	default:
		return 0
	}
}

// checkKeyForAlgorithm rejects key material whose type does not match the
// signature algorithm family.
func checkKeyForAlgorithm(alg jose.SignatureAlgorithm, key any) error {
	if jwk, ok := key.(*jose.JSONWebKey); ok {
		key = jwk.Key
	}
	if jwk, ok := key.(jose.JSONWebKey); ok {
		key = jwk.Key
	}

	switch alg {
	case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
		if _, ok := key.(*rsa.PrivateKey); !ok {
			return fmt.Errorf("algorithm %s requires an RSA private key, got %T", alg, key)
		}
	case jose.ES256, jose.ES384, jose.ES512:
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return fmt.Errorf("algorithm %s requires an ECDSA private key, got %T", alg, key)
		}
		if ec.Curve != ecdsaCurves[alg] {
			return fmt.Errorf("algorithm %s requires curve %s, key uses %s",
				alg, ecdsaCurves[alg].Params().Name, ec.Curve.Params().Name)
		}
	case jose.HS256, jose.HS384, jose.HS512:
		if _, ok := key.([]byte); !ok {
			return fmt.Errorf("algorithm %s requires a symmetric key, got %T", alg, key)
		}
	default:
		return fmt.Errorf("unsupported signature algorithm %q", alg)
	}
	return nil
}

// Signer produces compact JWS tokens with a fixed key and algorithm.
type Signer struct {
	alg jose.SignatureAlgorithm
	kid string
	key any
}

// NewSigner creates a Signer for the given JWK. The key's type must match
// the algorithm family.
func NewSigner(key *jose.JSONWebKey, alg jose.SignatureAlgorithm) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if err := checkKeyForAlgorithm(alg, key.Key); err != nil {
		return nil, err
	}
	return &Signer{alg: alg, kid: key.KeyID, key: key.Key}, nil
}

// NewSymmetricSigner creates an HMAC Signer over a raw shared secret.
// Used for client_secret_jwt verification fixtures and symmetric issuance.
func NewSymmetricSigner(secret []byte, alg jose.SignatureAlgorithm) (*Signer, error) {
	if err := checkKeyForAlgorithm(alg, secret); err != nil {
		return nil, err
	}
	return &Signer{alg: alg, key: secret}, nil
}

// Algorithm returns the signer's JWS algorithm.
func (s *Signer) Algorithm() jose.SignatureAlgorithm {
	return s.alg
}

// Sign serializes the claims and returns a compact JWS with the given typ
// header. The kid header is set when the key carries one.
func (s *Signer) Sign(claims Claims, typ HeaderType) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	opts := (&jose.SignerOptions{}).WithType(jose.ContentType(typ))
	if s.kid != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), s.kid)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: s.alg, Key: s.key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to construct signer: %w", err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return jws.CompactSerialize()
}
