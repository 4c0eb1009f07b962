// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package jwt

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Structured verification failures. Callers branch on these with errors.Is
// and map them onto protocol error codes.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidIssuer    = errors.New("unexpected token issuer")
	ErrInvalidAudience  = errors.New("unexpected token audience")
	ErrUnknownKey       = errors.New("no key available to verify token")
)

// DefaultClockSkew is the leeway applied to exp, nbf and iat checks.
const DefaultClockSkew = 60 * time.Second

// Expectations constrain token verification.
type Expectations struct {
	// Issuer, when non-empty, must equal the iss claim.
	Issuer string

	// Audience, when non-empty, must be contained in the aud claim.
	Audience string

	// Algorithms restricts the acceptable JWS algorithms. Empty means
	// every supported algorithm; "none" is always rejected.
	Algorithms []jose.SignatureAlgorithm

	// RequireExpiry rejects tokens without an exp claim.
	RequireExpiry bool

	// AcceptExpired skips the exp check. Used for id_token_hint at
	// logout, where an expired ID token still proves a past session.
	AcceptExpired bool

	// Now overrides the clock, for tests.
	Now func() time.Time

	// ClockSkew overrides DefaultClockSkew when positive.
	ClockSkew time.Duration
}

func (e *Expectations) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Expectations) skew() time.Duration {
	if e.ClockSkew > 0 {
		return e.ClockSkew
	}
	return DefaultClockSkew
}

func (e *Expectations) algorithms() []jose.SignatureAlgorithm {
	if len(e.Algorithms) > 0 {
		return e.Algorithms
	}
	return SupportedSignatureAlgorithms
}

// Token is a verified JWT: its protected header and decoded payload.
type Token struct {
	Header jose.Header
	Claims Claims
}

// Verifier checks compact JWS tokens against a fixed key set.
type Verifier struct {
	keys []jose.JSONWebKey
}

// NewVerifier creates a Verifier over the given verification keys.
// Private keys are accepted; verification uses their public part.
func NewVerifier(keys []jose.JSONWebKey) *Verifier {
	return &Verifier{keys: keys}
}

// NewSymmetricVerifier creates a Verifier over a raw HMAC secret.
func NewSymmetricVerifier(secret []byte) *Verifier {
	return &Verifier{keys: []jose.JSONWebKey{{Key: secret}}}
}

// keyCompatible reports whether a key can possibly verify the given alg.
func keyCompatible(key *jose.JSONWebKey, alg jose.SignatureAlgorithm) bool {
	if key.Algorithm != "" && key.Algorithm != string(alg) {
		return false
	}

	k := key.Key
	if jwk, ok := k.(*jose.JSONWebKey); ok {
		k = jwk.Key
	}

	switch k.(type) {
	case *rsa.PublicKey, *rsa.PrivateKey:
		return strings.HasPrefix(string(alg), "RS") || strings.HasPrefix(string(alg), "PS")
	case *ecdsa.PublicKey, *ecdsa.PrivateKey:
		return strings.HasPrefix(string(alg), "ES")
	case []byte:
		return strings.HasPrefix(string(alg), "HS")
	}
	return false
}

// candidateKeys resolves verification keys for a token header: exact kid
// match when present, otherwise every alg-compatible key.
func (v *Verifier) candidateKeys(header jose.Header) []jose.JSONWebKey {
	alg := jose.SignatureAlgorithm(header.Algorithm)

	if header.KeyID != "" {
		for i := range v.keys {
			if v.keys[i].KeyID == header.KeyID {
				return v.keys[i : i+1]
			}
		}
		return nil
	}

	var out []jose.JSONWebKey
	for i := range v.keys {
		if keyCompatible(&v.keys[i], alg) {
			out = append(out, v.keys[i])
		}
	}
	return out
}

// Verify parses and verifies a compact JWS and validates the registered
// claims against the expectations. The returned error wraps one of the
// structured failures above.
func (v *Verifier) Verify(token string, expect Expectations) (*Token, error) {
	// ParseSigned rejects "none" and any algorithm outside the allowed
	// set before any cryptographic work happens.
	jws, err := jose.ParseSigned(token, expect.algorithms())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one signature", ErrMalformedToken)
	}
	header := jws.Signatures[0].Header

	candidates := v.candidateKeys(header)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: kid=%q alg=%q", ErrUnknownKey, header.KeyID, header.Algorithm)
	}

	var payload []byte
	verified := false
	for i := range candidates {
		key := candidates[i]
		if _, symmetric := key.Key.([]byte); !symmetric && !key.IsPublic() {
			key = key.Public()
		}
		if payload, err = jws.Verify(key.Key); err == nil {
			verified = true
			break
		}
	}
	if !verified {
		return nil, ErrInvalidSignature
	}

	claims, err := ParseClaims(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %v", ErrMalformedToken, err)
	}

	if err := validateClaims(claims, &expect); err != nil {
		return nil, err
	}

	return &Token{Header: header, Claims: claims}, nil
}

func validateClaims(claims Claims, expect *Expectations) error {
	now := expect.now()
	skew := expect.skew()

	if exp, ok := claims.ExpiresAt(); ok {
		if !expect.AcceptExpired && now.After(exp.Add(skew)) {
			return fmt.Errorf("%w: exp=%s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
		}
	} else if expect.RequireExpiry {
		return fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}

	if nbf, ok := claims.NotBefore(); ok && now.Add(skew).Before(nbf) {
		return fmt.Errorf("%w: nbf=%s", ErrTokenNotYetValid, nbf.UTC().Format(time.RFC3339))
	}

	// iat must not sit far in the future; a small skew is permitted.
	if iat, ok := claims.IssuedAt(); ok && iat.After(now.Add(skew)) {
		return fmt.Errorf("%w: iat=%s", ErrTokenNotYetValid, iat.UTC().Format(time.RFC3339))
	}

	if expect.Issuer != "" && claims.Issuer() != expect.Issuer {
		return fmt.Errorf("%w: got %q", ErrInvalidIssuer, claims.Issuer())
	}

	if expect.Audience != "" && !claims.HasAudience(expect.Audience) {
		return fmt.Errorf("%w: %q not in aud", ErrInvalidAudience, expect.Audience)
	}

	return nil
}
