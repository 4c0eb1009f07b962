// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"
)

// Config selects and configures a key provider.
type Config struct {
	// SigningKeyFile is the PEM file holding the primary signing key.
	// Empty selects the generating provider.
	SigningKeyFile string `mapstructure:"signing_key_file"`

	// FallbackKeyFiles are PEM files whose public keys stay in the JWKS
	// so tokens signed before a rotation keep validating.
	FallbackKeyFiles []string `mapstructure:"fallback_key_files"`
}

// NewProviderFromConfig builds the provider the config describes.
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	if cfg.SigningKeyFile == "" {
		if len(cfg.FallbackKeyFiles) > 0 {
			return nil, fmt.Errorf("fallback key files require a signing key file")
		}
		return NewGeneratingProvider(), nil
	}
	return NewFileProvider(cfg.SigningKeyFile, cfg.FallbackKeyFiles...)
}

// NewManagerFromConfig builds the provider and wraps it in a Manager.
func NewManagerFromConfig(ctx context.Context, cfg Config) (*Manager, error) {
	provider, err := NewProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewManager(ctx, provider)
}
