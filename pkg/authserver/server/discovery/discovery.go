// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package discovery assembles the OIDC provider metadata document
// (OIDC Discovery 1.0, RFC 8414) including RFC 8705 mTLS endpoint
// aliases.
package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/oauth"
	"github.com/kestrelauth/kestrel/pkg/routes"
)

// Config controls metadata assembly.
type Config struct {
	// Issuer is the server's issuer identifier; every endpoint URL is
	// rooted under it.
	Issuer string

	// Disabled lists route keys whose endpoints are switched off. A
	// disabled endpoint is absent from the document, and so is its mTLS
	// alias.
	Disabled []string

	// MTLSBaseURI, when set, derives an mTLS alias for every
	// client-authenticating endpoint by re-rooting its path under this
	// base (RFC 8705 §5).
	MTLSBaseURI string

	// MTLSAliases are explicit aliases; a non-empty field takes
	// precedence over derivation from MTLSBaseURI.
	MTLSAliases *oauth.MTLSEndpointAliases

	// RequirePAR advertises that authorization requests must arrive via
	// the pushed authorization request endpoint.
	RequirePAR bool

	// CertificateBoundTokens advertises RFC 8705 token binding.
	CertificateBoundTokens bool
}

// Capabilities are the dynamic parts of the document, gathered from the
// assembled server: what the dispatcher, key manager and registries
// actually support.
type Capabilities struct {
	GrantTypes       []string
	ResponseTypes    []string
	ResponseModes    []string
	Scopes           []string
	Claims           []string
	SigningAlgs      []string
	TokenAuthMethods []string
	SubjectTypes     []string
	ACRValues        []string

	// PlainPKCE adds "plain" to the advertised code challenge methods.
	PlainPKCE bool

	// CIBA advertises the poll delivery mode and the backchannel
	// authentication endpoint.
	CIBA bool
}

// Builder assembles metadata documents.
type Builder struct {
	cfg      Config
	resolver *routes.Resolver
	caps     Capabilities
	disabled map[string]bool
}

// New creates a Builder.
func New(cfg Config, resolver *routes.Resolver, caps Capabilities) *Builder {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, key := range cfg.Disabled {
		disabled[key] = true
	}
	return &Builder{cfg: cfg, resolver: resolver, caps: caps, disabled: disabled}
}

// Build assembles the document.
func (b *Builder) Build() (*oauth.OIDCDiscoveryDocument, error) {
	doc := &oauth.OIDCDiscoveryDocument{
		AuthorizationServerMetadata: oauth.AuthorizationServerMetadata{
			Issuer:                                 b.cfg.Issuer,
			ScopesSupported:                        b.caps.Scopes,
			ResponseTypesSupported:                 b.caps.ResponseTypes,
			ResponseModesSupported:                 b.caps.ResponseModes,
			GrantTypesSupported:                    b.caps.GrantTypes,
			TokenEndpointAuthMethodsSupported:      b.caps.TokenAuthMethods,
			CodeChallengeMethodsSupported:          []string{"S256"},
			RequirePushedAuthorizationRequests:     b.cfg.RequirePAR,
			AuthorizationResponseIssParameterSupported: true,
			TLSClientCertificateBoundAccessTokens:  b.cfg.CertificateBoundTokens,
			AuthorizationSigningAlgValuesSupported: b.caps.SigningAlgs,
			RequestParameterSupported:              true,
			RequestURIParameterSupported:           true,
			RequireRequestURIRegistration:          true,
			RequestObjectSigningAlgValuesSupported: b.caps.SigningAlgs,
		},
		SubjectTypesSupported:              b.caps.SubjectTypes,
		IDTokenSigningAlgValuesSupported:   b.caps.SigningAlgs,
		IDTokenEncryptionAlgValuesSupported: encryptionAlgValues(),
		IDTokenEncryptionEncValuesSupported: encryptionEncValues(),
		ClaimsSupported:                    b.caps.Claims,
		ACRValuesSupported:                 b.caps.ACRValues,
		FrontchannelLogoutSupported:        true,
		FrontchannelLogoutSessionSupported: true,
		BackchannelLogoutSupported:         true,
		BackchannelLogoutSessionSupported:  true,
		PromptValuesSupported: []string{
			oauth.PromptNone, oauth.PromptLogin, oauth.PromptConsent, oauth.PromptSelectAccount,
		},
	}
	if b.caps.PlainPKCE {
		doc.CodeChallengeMethodsSupported = append(doc.CodeChallengeMethodsSupported, "plain")
	}
	if b.caps.CIBA {
		doc.BackchannelTokenDeliveryModesSupported = []string{"poll"}
	}

	endpoints := []struct {
		key  string
		dest *string
	}{
		{routes.KeyAuthorize, &doc.AuthorizationEndpoint},
		{routes.KeyToken, &doc.TokenEndpoint},
		{routes.KeyUserInfo, &doc.UserInfoEndpoint},
		{routes.KeyJWKS, &doc.JWKSURI},
		{routes.KeyRegister, &doc.RegistrationEndpoint},
		{routes.KeyIntrospect, &doc.IntrospectionEndpoint},
		{routes.KeyRevoke, &doc.RevocationEndpoint},
		{routes.KeyEndSession, &doc.EndSessionEndpoint},
		{routes.KeyCheckSession, &doc.CheckSessionIframe},
		{routes.KeyPAR, &doc.PushedAuthorizationRequestEndpoint},
		{routes.KeyDeviceAuthorization, &doc.DeviceAuthorizationEndpoint},
	}
	for _, ep := range endpoints {
		if b.disabled[ep.key] {
			continue
		}
		u, err := b.endpointURL(ep.key)
		if err != nil {
			return nil, err
		}
		*ep.dest = u
	}
	if b.caps.CIBA && !b.disabled[routes.KeyBackchannelAuth] {
		u, err := b.endpointURL(routes.KeyBackchannelAuth)
		if err != nil {
			return nil, err
		}
		doc.BackchannelAuthenticationEndpoint = u
	}

	aliases, err := b.mtlsAliases(doc)
	if err != nil {
		return nil, err
	}
	doc.MTLSEndpointAliases = aliases

	return doc, nil
}

// mtlsAliases derives the alias block for the client-authenticating
// endpoints (RFC 8705 §5). Explicit aliases win; otherwise each enabled
// endpoint's path is re-rooted under MTLSBaseURI, preserving any base
// path. An endpoint absent from the document never gets an alias.
func (b *Builder) mtlsAliases(doc *oauth.OIDCDiscoveryDocument) (*oauth.MTLSEndpointAliases, error) {
	if b.cfg.MTLSBaseURI == "" && b.cfg.MTLSAliases == nil {
		return nil, nil
	}
	var explicit oauth.MTLSEndpointAliases
	if b.cfg.MTLSAliases != nil {
		explicit = *b.cfg.MTLSAliases
	}

	out := &oauth.MTLSEndpointAliases{}
	targets := []struct {
		endpoint string // empty when the endpoint is disabled
		explicit string
		dest     *string
	}{
		{doc.TokenEndpoint, explicit.TokenEndpoint, &out.TokenEndpoint},
		{doc.IntrospectionEndpoint, explicit.IntrospectionEndpoint, &out.IntrospectionEndpoint},
		{doc.RevocationEndpoint, explicit.RevocationEndpoint, &out.RevocationEndpoint},
		{doc.PushedAuthorizationRequestEndpoint, explicit.PushedAuthorizationRequestEndpoint, &out.PushedAuthorizationRequestEndpoint},
		{doc.DeviceAuthorizationEndpoint, explicit.DeviceAuthorizationEndpoint, &out.DeviceAuthorizationEndpoint},
		{doc.UserInfoEndpoint, explicit.UserInfoEndpoint, &out.UserInfoEndpoint},
		{doc.BackchannelAuthenticationEndpoint, explicit.BackchannelAuthenticationEndpoint, &out.BackchannelAuthenticationEndpoint},
	}
	for _, t := range targets {
		if t.endpoint == "" {
			continue
		}
		if t.explicit != "" {
			*t.dest = t.explicit
			continue
		}
		if b.cfg.MTLSBaseURI == "" {
			continue
		}
		alias, err := b.deriveAlias(t.endpoint)
		if err != nil {
			return nil, err
		}
		*t.dest = alias
	}
	if out.IsEmpty() {
		return nil, nil
	}
	return out, nil
}

// deriveAlias swaps an endpoint URL's base for the mTLS base, keeping
// the endpoint's path relative to the issuer.
func (b *Builder) deriveAlias(endpoint string) (string, error) {
	issuer, err := url.Parse(b.cfg.Issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer %q: %w", b.cfg.Issuer, err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	path := strings.TrimPrefix(u.Path, strings.TrimSuffix(issuer.Path, "/"))
	return joinBase(b.cfg.MTLSBaseURI, path)
}

func (b *Builder) endpointURL(key string) (string, error) {
	path, err := b.resolver.Path(key)
	if err != nil {
		return "", err
	}
	return joinBase(b.cfg.Issuer, path)
}

// joinBase appends an endpoint path to a base URI, preserving the base's
// own path and normalizing the slash between them.
func joinBase(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URI %q: %w", base, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.Fragment = ""
	u.RawQuery = ""
	return u.String(), nil
}

// encryptionAlgValues lists the JWE key management algorithms accepted for
// encrypted ID tokens.
func encryptionAlgValues() []string {
	out := make([]string, 0, len(jwt.SupportedKeyManagementAlgorithms))
	for _, alg := range jwt.SupportedKeyManagementAlgorithms {
		out = append(out, string(alg))
	}
	return out
}

// encryptionEncValues lists the JWE content encryption algorithms accepted
// for encrypted ID tokens.
func encryptionEncValues() []string {
	out := make([]string, 0, len(jwt.SupportedContentEncryptions))
	for _, enc := range jwt.SupportedContentEncryptions {
		out = append(out, string(enc))
	}
	return out
}
