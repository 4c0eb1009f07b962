// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	t.Parallel()

	a := RandomToken(32)
	b := RandomToken(32)
	assert.NotEqual(t, a, b)
	// 32 bytes base64url without padding is 43 characters.
	assert.Len(t, a, 43)
	assert.NotContains(t, a, "=")
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	verifier := GeneratePKCEVerifier()
	challenge := ComputePKCEChallenge(verifier)

	require.NoError(t, VerifyPKCE(verifier, challenge))

	err := VerifyPKCE(GeneratePKCEVerifier(), challenge)
	assert.ErrorContains(t, err, "does not match")

	err = VerifyPKCE("too-short", challenge)
	assert.ErrorContains(t, err, "43-128")

	err = VerifyPKCE(strings.Repeat("a", 129), challenge)
	assert.ErrorContains(t, err, "43-128")
}

func TestComputePKCEChallengeVectors(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	assert.Equal(t, challenge, ComputePKCEChallenge(verifier))
	require.NoError(t, VerifyPKCE(verifier, challenge))

	// base64url(SHA-256("abc")), digest ba7816bf...f20015ad.
	assert.Equal(t, "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0", ComputePKCEChallenge("abc"))
}

func TestGenerateUserCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 100 {
		code := GenerateUserCode()
		require.Len(t, code, 9)
		assert.Equal(t, byte('-'), code[4])
		for i, c := range code {
			if i == 4 {
				continue
			}
			assert.Contains(t, userCodeAlphabet, string(c))
		}
		seen[code] = true
	}
	// 20^8 combinations make a collision in 100 draws vanishingly unlikely.
	assert.Len(t, seen, 100)
}

func TestNormalizeUserCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"BCDF-GHJK", "BCDF-GHJK"},
		{"bcdf-ghjk", "BCDF-GHJK"},
		{"bcdf ghjk", "BCDF-GHJK"},
		{"bcdfghjk", "BCDF-GHJK"},
		{" bcdf\tghjk ", "BCDF-GHJK"},
		{"short", "SHORT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeUserCode(tt.in), tt.in)
	}
}

func TestSessionState(t *testing.T) {
	t.Parallel()

	s1 := SessionState("client-1", "https://rp.example", "browser-a", "salt")
	s2 := SessionState("client-1", "https://rp.example", "browser-a", "salt")
	assert.Equal(t, s1, s2)
	assert.True(t, strings.HasSuffix(s1, ".salt"))

	s3 := SessionState("client-1", "https://rp.example", "browser-b", "salt")
	assert.NotEqual(t, s1, s3)
}
