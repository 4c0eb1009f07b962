// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package crypto holds the small cryptographic helpers the server shares:
// random token generation, PKCE challenge verification, user codes for the
// device flow, and the session_state hash for OIDC session management.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the default PKCE challenge method
// (RFC 7636 §4.2). The plain method is accepted only for clients
// registered to allow it.
const PKCEChallengeMethodS256 = "S256"

// RandomToken returns n bytes of cryptographic randomness, base64url
// encoded without padding. Used for authorization codes, refresh tokens,
// request URIs and device codes.
func RandomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("crypto/rand read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// GeneratePKCEVerifier generates a random code_verifier per RFC 7636 §4.1,
// delegating to golang.org/x/oauth2.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes BASE64URL(SHA256(verifier)) per RFC 7636
// §4.2, delegating to golang.org/x/oauth2.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a code_verifier against the stored challenge in
// constant time. Verifier length bounds are from RFC 7636 §4.1.
func VerifyPKCE(verifier, challenge string) error {
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code_verifier length must be 43-128 characters")
	}
	computed := ComputePKCEChallenge(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match the code_challenge")
	}
	return nil
}

// userCodeAlphabet excludes vowels and lookalike characters so generated
// codes cannot spell words and survive being read over the phone
// (RFC 8628 §6.1).
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// GenerateUserCode returns a device flow user code in XXXX-XXXX form.
// Rejection sampling keeps the character distribution uniform.
func GenerateUserCode() string {
	const codeLen = 8
	chars := make([]byte, 0, codeLen)
	buf := make([]byte, 16)

	for len(chars) < codeLen {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("crypto/rand read failed: %v", err))
		}
		for _, b := range buf {
			// 240 is the largest multiple of len(alphabet) below 256.
			if b >= 240 {
				continue
			}
			chars = append(chars, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
			if len(chars) == codeLen {
				break
			}
		}
	}

	return string(chars[:4]) + "-" + string(chars[4:])
}

// NormalizeUserCode uppercases a user-typed code and strips separators and
// whitespace, so "bcdf-ghjk" and "BCDF GHJK" both match.
func NormalizeUserCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) != 8 {
		return out
	}
	return out[:4] + "-" + out[4:]
}

// SessionState computes the OIDC Session Management session_state value:
// the salted hash of client, origin and the browser session identifier.
func SessionState(clientID, origin, browserState, salt string) string {
	sum := sha256.Sum256([]byte(clientID + " " + origin + " " + browserState + " " + salt))
	return base64.RawURLEncoding.EncodeToString(sum[:]) + "." + salt
}
