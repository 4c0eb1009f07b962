// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// Manager serves signers and the public JWKS from an immutable snapshot of
// its provider's keys. Rotate refreshes the provider (when it supports it)
// and swaps the snapshot, so token issuance never observes a half-rotated
// key set.
type Manager struct {
	provider KeyProvider

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	signing      []*SigningKeyData
	verification []*PublicKeyData

	// signers are pre-built per available algorithm; byKid indexes the
	// signing keys for introspection.
	signers map[jose.SignatureAlgorithm]*jwt.Signer
	byKid   map[string]*SigningKeyData
}

// NewManager builds a manager and takes the initial snapshot.
func NewManager(ctx context.Context, provider KeyProvider) (*Manager, error) {
	m := &Manager{provider: provider}
	if err := m.reload(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) reload(ctx context.Context) error {
	signing, err := m.provider.SigningKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}
	if len(signing) == 0 {
		return fmt.Errorf("provider returned no signing keys")
	}
	verification, err := m.provider.VerificationKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to load verification keys: %w", err)
	}

	snap := &snapshot{
		signing:      signing,
		verification: verification,
		signers:      make(map[jose.SignatureAlgorithm]*jwt.Signer),
		byKid:        make(map[string]*SigningKeyData),
	}
	for _, k := range signing {
		snap.byKid[k.KeyID] = k
		if _, ok := snap.signers[k.Algorithm]; ok {
			continue
		}
		signer, err := jwt.NewSigner(k.JWK(), k.Algorithm)
		if err != nil {
			return fmt.Errorf("failed to build signer for %s: %w", k.KeyID, err)
		}
		snap.signers[k.Algorithm] = signer
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
	return nil
}

func (m *Manager) snapshot() *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Rotate asks the provider for fresh material and swaps the snapshot.
// Providers without refresh support still get their current keys re-read.
func (m *Manager) Rotate(ctx context.Context) error {
	if r, ok := m.provider.(Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return fmt.Errorf("key refresh failed: %w", err)
		}
	}
	if err := m.reload(ctx); err != nil {
		return err
	}
	logger.Infow("signing keys rotated", "kid", m.DefaultKeyID())
	return nil
}

// Signer returns a signer for the requested algorithm. An empty algorithm
// selects the default key. When no key carries the algorithm natively, a
// key whose type can produce it is used instead (an RSA key registered as
// RS256 can also serve PS256).
func (m *Manager) Signer(alg jose.SignatureAlgorithm) (*jwt.Signer, error) {
	snap := m.snapshot()

	if alg == "" {
		alg = snap.signing[0].Algorithm
	}
	if s, ok := snap.signers[alg]; ok {
		return s, nil
	}

	for _, k := range snap.signing {
		if !algorithmCompatible(k.Key, alg) {
			continue
		}
		jwk := k.JWK()
		jwk.Algorithm = string(alg)
		return jwt.NewSigner(jwk, alg)
	}
	return nil, fmt.Errorf("no signing key supports algorithm %s", alg)
}

// DefaultAlg returns the algorithm of the preferred signing key.
func (m *Manager) DefaultAlg() jose.SignatureAlgorithm {
	return m.snapshot().signing[0].Algorithm
}

// DefaultKeyID returns the kid of the preferred signing key.
func (m *Manager) DefaultKeyID() string {
	return m.snapshot().signing[0].KeyID
}

// SigningAlgorithms lists every algorithm the key set can produce, for the
// discovery document. The native algorithms come first.
func (m *Manager) SigningAlgorithms() []string {
	snap := m.snapshot()

	seen := make(map[jose.SignatureAlgorithm]bool)
	var out []string
	add := func(alg jose.SignatureAlgorithm) {
		if !seen[alg] {
			seen[alg] = true
			out = append(out, string(alg))
		}
	}

	for _, k := range snap.signing {
		add(k.Algorithm)
	}
	all := []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512,
		jose.PS256, jose.PS384, jose.PS512,
		jose.ES256, jose.ES384, jose.ES512,
	}
	for _, alg := range all {
		for _, k := range snap.signing {
			if algorithmCompatible(k.Key, alg) {
				add(alg)
				break
			}
		}
	}
	return out
}

// PublicJWKS serializes the verification keys as a JWKS document.
func (m *Manager) PublicJWKS() ([]byte, error) {
	snap := m.snapshot()

	jwks := make([]jose.JSONWebKey, 0, len(snap.verification))
	for _, k := range snap.verification {
		jwks = append(jwks, k.JWK())
	}
	return jwt.MarshalJWKS(jwks, false)
}

// VerificationKeys returns the current public key set.
func (m *Manager) VerificationKeys() []*PublicKeyData {
	return m.snapshot().verification
}
