// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/jwt"
)

// LoadSigningKey loads a private key from a PEM file. RSA (PKCS1 and
// PKCS8) and ECDSA (SEC1 and PKCS8) formats are supported.
func LoadSigningKey(keyPath string) (crypto.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 - keyPath comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from signing key")
	}

	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecKey, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("signing key does not implement crypto.Signer")
	}
	return signer, nil
}

// DeriveKeyID computes the RFC 7638 JWK thumbprint of the public key.
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	kid, err := jwt.Thumbprint(&jwk)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return kid, nil
}

// DeriveAlgorithm determines the signing algorithm for a key from its type
// and, for ECDSA, its curve.
func DeriveAlgorithm(key crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		return deriveECAlgorithm(k.Curve)
	default:
		return "", fmt.Errorf("unsupported key type: %T", key)
	}
}

func deriveECAlgorithm(curve elliptic.Curve) (jose.SignatureAlgorithm, error) {
	switch curve {
	case elliptic.P256():
		return jose.ES256, nil
	case elliptic.P384():
		return jose.ES384, nil
	case elliptic.P521():
		return jose.ES512, nil
	default:
		return "", fmt.Errorf("unsupported EC curve: %s", curve.Params().Name)
	}
}

// KeyData derives the signing metadata for a raw private key. An empty kid
// or algorithm is derived from the key; provided values are validated
// against the key type.
func KeyData(key crypto.Signer, kid string, alg jose.SignatureAlgorithm) (*SigningKeyData, error) {
	if kid == "" {
		derived, err := DeriveKeyID(key)
		if err != nil {
			return nil, err
		}
		kid = derived
	}

	if alg == "" {
		derived, err := DeriveAlgorithm(key)
		if err != nil {
			return nil, err
		}
		alg = derived
	} else if err := validateAlgorithmForKey(alg, key); err != nil {
		return nil, err
	}

	return &SigningKeyData{
		KeyID:     kid,
		Algorithm: alg,
		Key:       key,
		CreatedAt: time.Now(),
	}, nil
}

func validateAlgorithmForKey(alg jose.SignatureAlgorithm, key crypto.Signer) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
			return nil
		}
		return fmt.Errorf("algorithm %s is not compatible with an RSA key", alg)
	case *ecdsa.PrivateKey:
		expected, err := deriveECAlgorithm(k.Curve)
		if err != nil {
			return err
		}
		if alg != expected {
			return fmt.Errorf("algorithm %s is not compatible with curve %s (expected %s)",
				alg, k.Curve.Params().Name, expected)
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type: %T", key)
	}
}

// algorithmCompatible reports whether a key's type can produce the given
// signature algorithm, regardless of the key's declared default.
func algorithmCompatible(key crypto.Signer, alg jose.SignatureAlgorithm) bool {
	return validateAlgorithmForKey(alg, key) == nil
}
