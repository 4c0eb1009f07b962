// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/logger"
)

// KeyProvider supplies the server's signing material. SigningKeys returns
// the keys available for signing, newest-preferred; VerificationKeys
// returns everything that must appear in the public JWKS, including
// retired keys still needed to verify outstanding tokens.
type KeyProvider interface {
	SigningKeys(ctx context.Context) ([]*SigningKeyData, error)
	VerificationKeys(ctx context.Context) ([]*PublicKeyData, error)
}

// Refresher is implemented by providers that can pick up new key material
// at runtime. FileProvider re-reads its files; GeneratingProvider mints a
// fresh key and retires the old one to verification-only.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// FileProvider
// ---------------------------------------------------------------------------

// FileProvider loads signing keys from PEM files on disk. The primary file
// is used for signing; fallback files are served for verification only, so
// tokens signed before a rotation keep validating.
type FileProvider struct {
	primaryPath   string
	fallbackPaths []string

	mu       sync.RWMutex
	primary  *SigningKeyData
	fallback []*PublicKeyData
}

var (
	_ KeyProvider = (*FileProvider)(nil)
	_ Refresher   = (*FileProvider)(nil)
)

// NewFileProvider loads the configured key files eagerly so a bad path or
// malformed key fails at startup, not on the first token.
func NewFileProvider(primaryPath string, fallbackPaths ...string) (*FileProvider, error) {
	p := &FileProvider{
		primaryPath:   primaryPath,
		fallbackPaths: fallbackPaths,
	}
	if err := p.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Refresh re-reads all key files from disk and swaps them in atomically.
func (p *FileProvider) Refresh(_ context.Context) error {
	primary, err := loadFileKey(p.primaryPath)
	if err != nil {
		return fmt.Errorf("failed to load signing key %s: %w", p.primaryPath, err)
	}

	fallback := make([]*PublicKeyData, 0, len(p.fallbackPaths))
	for _, path := range p.fallbackPaths {
		data, err := loadFileKey(path)
		if err != nil {
			return fmt.Errorf("failed to load fallback key %s: %w", path, err)
		}
		fallback = append(fallback, &PublicKeyData{
			KeyID:     data.KeyID,
			Algorithm: data.Algorithm,
			PublicKey: data.Key.Public(),
			CreatedAt: data.CreatedAt,
		})
	}

	p.mu.Lock()
	p.primary = primary
	p.fallback = fallback
	p.mu.Unlock()

	logger.Debugw("signing keys loaded from disk",
		"kid", primary.KeyID, "alg", primary.Algorithm, "fallbacks", len(fallback))
	return nil
}

func loadFileKey(path string) (*SigningKeyData, error) {
	key, err := LoadSigningKey(path)
	if err != nil {
		return nil, err
	}
	return KeyData(key, "", "")
}

// SigningKeys returns the primary key.
func (p *FileProvider) SigningKeys(_ context.Context) ([]*SigningKeyData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return []*SigningKeyData{p.primary}, nil
}

// VerificationKeys returns the primary key followed by the fallbacks.
func (p *FileProvider) VerificationKeys(_ context.Context) ([]*PublicKeyData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*PublicKeyData, 0, 1+len(p.fallback))
	out = append(out, &PublicKeyData{
		KeyID:     p.primary.KeyID,
		Algorithm: p.primary.Algorithm,
		PublicKey: p.primary.Key.Public(),
		CreatedAt: p.primary.CreatedAt,
	})
	out = append(out, p.fallback...)
	return out, nil
}

// ---------------------------------------------------------------------------
// StaticProvider
// ---------------------------------------------------------------------------

// StaticProvider serves a fixed set of in-memory keys. Useful for tests
// and for embedding scenarios where key material comes from elsewhere.
type StaticProvider struct {
	signing []*SigningKeyData
}

var _ KeyProvider = (*StaticProvider)(nil)

// NewStaticProvider wraps pre-built keys. At least one is required.
func NewStaticProvider(signing ...*SigningKeyData) (*StaticProvider, error) {
	if len(signing) == 0 {
		return nil, fmt.Errorf("at least one signing key is required")
	}
	return &StaticProvider{signing: signing}, nil
}

// SigningKeys returns the configured keys.
func (p *StaticProvider) SigningKeys(_ context.Context) ([]*SigningKeyData, error) {
	return p.signing, nil
}

// VerificationKeys returns the public halves of the configured keys.
func (p *StaticProvider) VerificationKeys(_ context.Context) ([]*PublicKeyData, error) {
	out := make([]*PublicKeyData, 0, len(p.signing))
	for _, k := range p.signing {
		out = append(out, &PublicKeyData{
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			PublicKey: k.Key.Public(),
			CreatedAt: k.CreatedAt,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// GeneratingProvider
// ---------------------------------------------------------------------------

// GeneratingProvider generates an ephemeral ES256 key on first use. Tokens
// signed with it do not survive a restart, which is acceptable for
// development and short-lived deployments.
type GeneratingProvider struct {
	mu      sync.Mutex
	current *SigningKeyData
	retired []*PublicKeyData
}

var (
	_ KeyProvider = (*GeneratingProvider)(nil)
	_ Refresher   = (*GeneratingProvider)(nil)
)

// NewGeneratingProvider returns a provider that lazily generates its key.
func NewGeneratingProvider() *GeneratingProvider {
	return &GeneratingProvider{}
}

func (p *GeneratingProvider) ensureKey() (*SigningKeyData, error) {
	if p.current != nil {
		return p.current, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	data, err := KeyData(key, "", DefaultAlgorithm)
	if err != nil {
		return nil, err
	}
	p.current = data

	logger.Debugw("generated ephemeral signing key", "kid", data.KeyID, "alg", data.Algorithm)
	return data, nil
}

// Refresh generates a new signing key and keeps the old one available for
// verification until the next refresh cycle ages it out.
func (p *GeneratingProvider) Refresh(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.current
	p.current = nil
	if _, err := p.ensureKey(); err != nil {
		p.current = old
		return err
	}

	if old != nil {
		p.retired = append(p.retired, &PublicKeyData{
			KeyID:     old.KeyID,
			Algorithm: old.Algorithm,
			PublicKey: old.Key.Public(),
			CreatedAt: old.CreatedAt,
		})
	}
	return nil
}

// SigningKeys returns the current key, generating it if needed.
func (p *GeneratingProvider) SigningKeys(_ context.Context) ([]*SigningKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.ensureKey()
	if err != nil {
		return nil, err
	}
	return []*SigningKeyData{data}, nil
}

// VerificationKeys returns the current key plus any retired ones.
func (p *GeneratingProvider) VerificationKeys(_ context.Context) ([]*PublicKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.ensureKey()
	if err != nil {
		return nil, err
	}
	out := make([]*PublicKeyData, 0, 1+len(p.retired))
	out = append(out, &PublicKeyData{
		KeyID:     data.KeyID,
		Algorithm: data.Algorithm,
		PublicKey: data.Key.Public(),
		CreatedAt: data.CreatedAt,
	})
	out = append(out, p.retired...)
	return out, nil
}

// GenerateKey builds a fresh signing key for the given algorithm. Only the
// ECDSA family is supported; RSA generation is slow enough that operators
// should provision RSA keys out of band.
func GenerateKey(alg jose.SignatureAlgorithm) (*SigningKeyData, error) {
	var curve elliptic.Curve
	switch alg {
	case jose.ES256:
		curve = elliptic.P256()
	case jose.ES384:
		curve = elliptic.P384()
	case jose.ES512:
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("cannot generate a key for algorithm %s", alg)
	}

	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}
	return KeyData(key, "", alg)
}
