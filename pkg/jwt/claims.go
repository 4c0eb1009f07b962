// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package jwt is the token layer of the authorization server: a claim
// model with typed accessors, signers and verifiers over go-jose, and
// JWK/JWKS helpers. Access, refresh, ID, logout and JARM tokens are all
// minted and checked through this package.
package jwt

import (
	"encoding/json"
	"time"
)

// Registered claim names used across the server.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimExpiresAt = "exp"
	ClaimIssuedAt  = "iat"
	ClaimNotBefore = "nbf"
	ClaimJTI       = "jti"
	ClaimScope     = "scope"
	ClaimClientID  = "client_id"
	ClaimNonce     = "nonce"
	ClaimACR       = "acr"
	ClaimAMR       = "amr"
	ClaimAuthTime  = "auth_time"
	ClaimEvents    = "events"
	ClaimSessionID = "sid"
	ClaimCnf       = "cnf"
)

// Claims is a JWT payload. Multi-valued claims stay JSON arrays; the
// accessors below never collapse them to a first value.
type Claims map[string]any

// NewClaims returns an empty claim set.
func NewClaims() Claims {
	return Claims{}
}

func (c Claims) str(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

func (c Claims) unix(name string) (time.Time, bool) {
	switch v := c[name].(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0), true
		}
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

// Issuer returns the iss claim.
func (c Claims) Issuer() string { return c.str(ClaimIssuer) }

// Subject returns the sub claim.
func (c Claims) Subject() string { return c.str(ClaimSubject) }

// ID returns the jti claim.
func (c Claims) ID() string { return c.str(ClaimJTI) }

// Scope returns the space-separated scope claim.
func (c Claims) Scope() string { return c.str(ClaimScope) }

// ClientID returns the client_id claim.
func (c Claims) ClientID() string { return c.str(ClaimClientID) }

// Nonce returns the nonce claim.
func (c Claims) Nonce() string { return c.str(ClaimNonce) }

// ACR returns the acr claim.
func (c Claims) ACR() string { return c.str(ClaimACR) }

// SessionID returns the sid claim.
func (c Claims) SessionID() string { return c.str(ClaimSessionID) }

// Audience returns the aud claim, normalizing the string form to a
// single-element slice.
func (c Claims) Audience() []string {
	switch v := c[ClaimAudience].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasAudience reports whether aud contains the given audience.
func (c Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience() {
		if a == aud {
			return true
		}
	}
	return false
}

// AMR returns the amr claim values.
func (c Claims) AMR() []string {
	switch v := c[ClaimAMR].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExpiresAt returns the exp claim; ok is false when absent.
func (c Claims) ExpiresAt() (time.Time, bool) { return c.unix(ClaimExpiresAt) }

// IssuedAt returns the iat claim; ok is false when absent.
func (c Claims) IssuedAt() (time.Time, bool) { return c.unix(ClaimIssuedAt) }

// NotBefore returns the nbf claim; ok is false when absent.
func (c Claims) NotBefore() (time.Time, bool) { return c.unix(ClaimNotBefore) }

// AuthTime returns the auth_time claim; ok is false when absent.
func (c Claims) AuthTime() (time.Time, bool) { return c.unix(ClaimAuthTime) }

// Set stores an arbitrary claim and returns the claim set for chaining.
func (c Claims) Set(name string, value any) Claims {
	c[name] = value
	return c
}

// SetTime stores a claim as a Unix timestamp.
func (c Claims) SetTime(name string, t time.Time) Claims {
	c[name] = t.Unix()
	return c
}

// Clone returns a shallow copy of the claim set.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ParseClaims decodes a JSON payload into a claim set.
func ParseClaims(payload []byte) (Claims, error) {
	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, err
	}
	return c, nil
}
