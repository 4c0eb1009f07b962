// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package idp delegates resource owner authentication to an upstream
// OpenID Connect provider. The password grant forwards the credentials
// upstream and maps the upstream subject to a local one; this server
// never stores or checks passwords itself.
package idp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/networking"
	kestreloauth "github.com/kestrelauth/kestrel/pkg/oauth"
)

// Config identifies the upstream provider and this server's client
// registration there.
type Config struct {
	// IssuerURL is the upstream issuer; discovery runs against its
	// well-known endpoint.
	IssuerURL string `mapstructure:"issuer_url"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// Scopes are requested upstream; openid is always included.
	Scopes []string `mapstructure:"scopes"`
}

// Provider is an upstream OIDC delegate. It lazily discovers the
// upstream metadata on first use and caches it for the process lifetime.
type Provider struct {
	cfg  Config
	http *http.Client
	keys *jwks.Client

	mu  sync.Mutex
	doc *kestreloauth.OIDCDiscoveryDocument
}

// New creates a Provider. The JWKS client caches and refreshes the
// upstream signing keys in the background.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("upstream issuer_url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("upstream client_id is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	keys, err := jwks.New(ctx, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS client: %w", err)
	}
	return &Provider{cfg: cfg, http: httpClient, keys: keys}, nil
}

// AuthenticateUser verifies the credentials against the upstream token
// endpoint and returns the upstream subject. Any upstream failure is an
// authentication failure; the caller reports it without detail.
func (p *Provider) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	doc, err := p.discover(ctx)
	if err != nil {
		return "", err
	}

	conf := &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: doc.TokenEndpoint},
		Scopes:       p.scopes(),
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	token, err := conf.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		logger.Debugw("upstream password authentication failed", "issuer", p.cfg.IssuerURL, "error", err)
		return "", fmt.Errorf("upstream authentication failed: %w", err)
	}

	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		return p.subjectFromIDToken(ctx, doc, idToken)
	}
	return p.subjectFromUserInfo(ctx, doc, token.AccessToken)
}

// subjectFromIDToken verifies the upstream ID token and extracts sub.
func (p *Provider) subjectFromIDToken(ctx context.Context, doc *kestreloauth.OIDCDiscoveryDocument, idToken string) (string, error) {
	keySet, err := p.keys.JoseKeys(ctx, doc.JWKSURI)
	if err != nil {
		return "", fmt.Errorf("fetching upstream JWKS: %w", err)
	}
	verified, err := jwt.NewVerifier(keySet.Keys).Verify(idToken, jwt.Expectations{
		Issuer:        doc.Issuer,
		Audience:      p.cfg.ClientID,
		RequireExpiry: true,
	})
	if err != nil {
		return "", fmt.Errorf("verifying upstream ID token: %w", err)
	}
	sub := verified.Claims.Subject()
	if sub == "" {
		return "", fmt.Errorf("upstream ID token has no subject")
	}
	return sub, nil
}

// subjectFromUserInfo falls back to the userinfo endpoint for upstreams
// that do not return an ID token on the password grant.
func (p *Provider) subjectFromUserInfo(ctx context.Context, doc *kestreloauth.OIDCDiscoveryDocument, accessToken string) (string, error) {
	if doc.UserInfoEndpoint == "" {
		return "", fmt.Errorf("upstream returned no ID token and exposes no userinfo endpoint")
	}
	info, err := networking.FetchJSON[map[string]any](ctx, p.http, doc.UserInfoEndpoint,
		networking.WithHeader("Authorization", "Bearer "+accessToken))
	if err != nil {
		return "", fmt.Errorf("fetching upstream userinfo: %w", err)
	}
	sub, _ := info["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("upstream userinfo has no subject")
	}
	return sub, nil
}

// discover loads and caches the upstream metadata. Issuer mismatch is
// rejected per OIDC Discovery §4.3.
func (p *Provider) discover(ctx context.Context) (*kestreloauth.OIDCDiscoveryDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc != nil {
		return p.doc, nil
	}

	wellKnown := strings.TrimSuffix(p.cfg.IssuerURL, "/") + "/.well-known/openid-configuration"
	doc, err := networking.FetchJSON[*kestreloauth.OIDCDiscoveryDocument](ctx, p.http, wellKnown)
	if err != nil {
		return nil, fmt.Errorf("upstream discovery failed: %w", err)
	}
	if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(p.cfg.IssuerURL, "/") {
		return nil, fmt.Errorf("upstream issuer mismatch: configured %q, document says %q", p.cfg.IssuerURL, doc.Issuer)
	}
	if doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("upstream metadata has no token endpoint")
	}

	p.doc = doc
	return doc, nil
}

func (p *Provider) scopes() []string {
	for _, s := range p.cfg.Scopes {
		if s == "openid" {
			return p.cfg.Scopes
		}
	}
	return append([]string{"openid"}, p.cfg.Scopes...)
}
