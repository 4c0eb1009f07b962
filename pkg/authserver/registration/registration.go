// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package registration implements OAuth 2.0 Dynamic Client Registration
// (RFC 7591) and the registration management protocol (RFC 7592). The
// management surface is guarded by a per-client registration access
// token issued at registration time and stored only as a hash.
package registration

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/networking"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// Validation limits. Oversized registration documents are rejected
// before any URI is dereferenced.
const (
	MaxRedirectURIs    = 10
	MaxClientNameBytes = 256

	secretBytes = 32
	tokenBytes  = 32
)

// Metadata is the RFC 7591 client metadata document, both as submitted
// by the registering client and as echoed back on the management
// surface.
type Metadata struct {
	RedirectURIs            []string        `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string          `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string        `json:"grant_types,omitempty"`
	ResponseTypes           []string        `json:"response_types,omitempty"`
	ClientName              string          `json:"client_name,omitempty"`
	ClientURI               string          `json:"client_uri,omitempty"`
	Contacts                []string        `json:"contacts,omitempty"`
	Scope                   string          `json:"scope,omitempty"`
	JWKSURI                 string          `json:"jwks_uri,omitempty"`
	JWKS                    json.RawMessage `json:"jwks,omitempty"`
	RequestURIs             []string        `json:"request_uris,omitempty"`

	SubjectType                 string `json:"subject_type,omitempty"`
	SectorIdentifierURI         string `json:"sector_identifier_uri,omitempty"`
	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`
	UserInfoSignedResponseAlg   string `json:"userinfo_signed_response_alg,omitempty"`

	FrontchannelLogoutURI             string   `json:"frontchannel_logout_uri,omitempty"`
	FrontchannelLogoutSessionRequired bool     `json:"frontchannel_logout_session_required,omitempty"`
	BackchannelLogoutURI              string   `json:"backchannel_logout_uri,omitempty"`
	BackchannelLogoutSessionRequired  bool     `json:"backchannel_logout_session_required,omitempty"`
	PostLogoutRedirectURIs            []string `json:"post_logout_redirect_uris,omitempty"`

	CertificateBoundTokens bool   `json:"tls_client_certificate_bound_access_tokens,omitempty"`
	TLSClientAuthSubjectDN string `json:"tls_client_auth_subject_dn,omitempty"`
	TLSClientAuthSANDNS    string `json:"tls_client_auth_san_dns,omitempty"`
	TLSClientAuthSANURI    string `json:"tls_client_auth_san_uri,omitempty"`
	TLSClientAuthSANIP     string `json:"tls_client_auth_san_ip,omitempty"`
	TLSClientAuthSANEmail  string `json:"tls_client_auth_san_email,omitempty"`
}

// Registration is a registration response (RFC 7591 §3.2.1). The
// registration access token appears only in the initial response; later
// management reads echo the metadata without it.
type Registration struct {
	ClientID              string `json:"client_id"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`

	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string `json:"registration_client_uri,omitempty"`

	Metadata
}

// Config bounds what dynamically registered clients may request.
type Config struct {
	// RegistrationEndpoint is the absolute URL of the registration
	// endpoint; registration_client_uri appends the client_id to it.
	RegistrationEndpoint string

	// Supported capability sets. A registration naming anything outside
	// them is rejected with invalid_client_metadata.
	GrantTypes       []string
	ResponseTypes    []string
	TokenAuthMethods []string
	SigningAlgs      []string

	// Scopes restricts the registrable scope values; empty allows any.
	Scopes []string

	// SecretLifetime bounds generated client secrets; zero means
	// non-expiring.
	SecretLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}
	}
	if len(c.ResponseTypes) == 0 {
		c.ResponseTypes = []string{oauth.ResponseTypeCode}
	}
	if len(c.TokenAuthMethods) == 0 {
		c.TokenAuthMethods = []string{
			oauth.TokenEndpointAuthMethodBasic,
			oauth.TokenEndpointAuthMethodNone,
		}
	}
	return c
}

// Service handles dynamic client registration and management.
type Service struct {
	cfg     Config
	clients storage.ClientStore
	http    networking.HTTPClient
	now     func() time.Time
}

// New creates a registration service. The HTTP client dereferences
// sector_identifier_uri documents and should carry SSRF protection.
func New(cfg Config, clients storage.ClientStore, httpClient networking.HTTPClient) *Service {
	return &Service{cfg: cfg.withDefaults(), clients: clients, http: httpClient, now: time.Now}
}

// Register validates the metadata and creates the client (RFC 7591
// §3.1). The response carries the generated credentials in cleartext;
// only their hashes are stored.
func (s *Service) Register(ctx context.Context, md *Metadata) (*Registration, *oidcerr.Error) {
	c, oerr := s.buildClient(ctx, md)
	if oerr != nil {
		return nil, oerr
	}

	c.ID = uuid.NewString()
	c.CreatedAt = s.now().UTC().Truncate(time.Second)

	secret, oerr := s.provisionSecret(c)
	if oerr != nil {
		return nil, oerr
	}

	mgmtToken := crypto.RandomToken(tokenBytes)
	hash, err := client.HashSecret(mgmtToken, client.SecretHashSHA256)
	if err != nil {
		logger.Errorw("hashing registration access token failed", "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	c.RegistrationAccessTokenHash = hash

	if err := s.clients.CreateClient(ctx, c); err != nil {
		logger.Errorw("storing registered client failed", "client_id", c.ID, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	resp := s.response(c, secret)
	resp.RegistrationAccessToken = mgmtToken
	return resp, nil
}

// Get reads the current registration (RFC 7592 §2.1).
func (s *Service) Get(ctx context.Context, clientID, token string) (*Registration, *oidcerr.Error) {
	c, oerr := s.manageable(ctx, clientID, token)
	if oerr != nil {
		return nil, oerr
	}
	// Secrets are stored hashed and cannot be echoed; client_secret_jwt
	// clients keep the raw value as their MAC key and get it back.
	secret := ""
	if c.Secret != nil {
		secret = c.Secret.Value
	}
	return s.response(c, secret), nil
}

// Update replaces the registration's metadata (RFC 7592 §2.2). The
// client_id and the registration access token are immutable; the secret
// is kept when the new auth method still uses one, rotated in when a
// secretless client switches to a secret method.
func (s *Service) Update(ctx context.Context, clientID, token string, md *Metadata) (*Registration, *oidcerr.Error) {
	prev, oerr := s.manageable(ctx, clientID, token)
	if oerr != nil {
		return nil, oerr
	}

	c, oerr := s.buildClient(ctx, md)
	if oerr != nil {
		return nil, oerr
	}
	c.ID = prev.ID
	c.CreatedAt = prev.CreatedAt
	c.RegistrationAccessTokenHash = prev.RegistrationAccessTokenHash

	secret := ""
	if usesSecret(c.TokenEndpointAuthMethod) {
		if prev.Secret != nil {
			c.Secret = prev.Secret
			secret = prev.Secret.Value
		} else {
			secret, oerr = s.provisionSecret(c)
			if oerr != nil {
				return nil, oerr
			}
		}
	}

	if err := s.clients.UpdateClient(ctx, c); err != nil {
		logger.Errorw("updating registered client failed", "client_id", c.ID, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	return s.response(c, secret), nil
}

// Delete deprovisions the client (RFC 7592 §2.3).
func (s *Service) Delete(ctx context.Context, clientID, token string) *oidcerr.Error {
	c, oerr := s.manageable(ctx, clientID, token)
	if oerr != nil {
		return oerr
	}
	if err := s.clients.DeleteClient(ctx, c.ID); err != nil {
		logger.Errorw("deleting registered client failed", "client_id", c.ID, "error", err)
		return oidcerr.ServerError(oidcerr.StageProcess)
	}
	return nil
}

// manageable authorizes a management request. Unknown clients and bad
// tokens fail identically so the endpoint is not an existence oracle.
func (s *Service) manageable(ctx context.Context, clientID, token string) (*client.Client, *oidcerr.Error) {
	denied := oidcerr.InvalidClient("invalid registration access token")
	if token == "" {
		return nil, denied
	}

	c, err := s.clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, denied
	}
	if err != nil {
		logger.Errorw("client lookup failed", "client_id", clientID, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageValidate)
	}
	if c.RegistrationAccessTokenHash == "" {
		// Statically configured client; not managed over RFC 7592.
		return nil, denied
	}

	hash, err := client.HashSecret(token, client.SecretHashSHA256)
	if err != nil || subtle.ConstantTimeCompare([]byte(hash), []byte(c.RegistrationAccessTokenHash)) != 1 {
		return nil, denied
	}
	return c, nil
}

// buildClient validates the metadata document and maps it onto the
// client model, without identity or credentials.
func (s *Service) buildClient(ctx context.Context, md *Metadata) (*client.Client, *oidcerr.Error) {
	grantTypes := md.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{oauth.GrantTypeAuthorizationCode}
	}
	responseTypes := md.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{oauth.ResponseTypeCode}
	}
	authMethod := md.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.TokenEndpointAuthMethodBasic
	}
	subjectType := md.SubjectType
	if subjectType == "" {
		subjectType = oauth.SubjectTypePublic
	}

	for _, gt := range grantTypes {
		if !slices.Contains(s.cfg.GrantTypes, gt) {
			return nil, metadataErr("unsupported grant_type %q", gt)
		}
	}
	for _, rt := range responseTypes {
		if !slices.Contains(s.cfg.ResponseTypes, rt) {
			return nil, metadataErr("unsupported response_type %q", rt)
		}
	}
	if slices.Contains(responseTypes, oauth.ResponseTypeCode) &&
		!slices.Contains(grantTypes, oauth.GrantTypeAuthorizationCode) {
		return nil, metadataErr("response_type %q requires grant_type %q",
			oauth.ResponseTypeCode, oauth.GrantTypeAuthorizationCode)
	}
	if !slices.Contains(s.cfg.TokenAuthMethods, authMethod) {
		return nil, metadataErr("unsupported token_endpoint_auth_method %q", authMethod)
	}
	if subjectType != oauth.SubjectTypePublic && subjectType != oauth.SubjectTypePairwise {
		return nil, metadataErr("unsupported subject_type %q", subjectType)
	}

	if oerr := s.validateRedirectURIs(md, grantTypes); oerr != nil {
		return nil, oerr
	}
	if len(md.ClientName) > MaxClientNameBytes {
		return nil, metadataErr("client_name exceeds %d bytes", MaxClientNameBytes)
	}
	if oerr := s.validateKeys(md, authMethod); oerr != nil {
		return nil, oerr
	}
	if oerr := s.validateAlgs(md); oerr != nil {
		return nil, oerr
	}
	for _, u := range md.RequestURIs {
		if !isHTTPS(u) {
			return nil, metadataErr("request_uri %q must be an absolute https URI", u)
		}
	}
	if md.BackchannelLogoutURI != "" && !isHTTPS(md.BackchannelLogoutURI) {
		return nil, metadataErr("backchannel_logout_uri must be an absolute https URI")
	}
	if md.FrontchannelLogoutURI != "" {
		if oerr := validateRedirectURI(md.FrontchannelLogoutURI); oerr != nil {
			return nil, metadataErr("frontchannel_logout_uri: %s", oerr.Description)
		}
	}
	for _, u := range md.PostLogoutRedirectURIs {
		if oerr := validateRedirectURI(u); oerr != nil {
			return nil, oerr
		}
	}

	scopes, oerr := s.validateScope(md.Scope)
	if oerr != nil {
		return nil, oerr
	}

	c := &client.Client{
		Name:     md.ClientName,
		URI:      md.ClientURI,
		Contacts: md.Contacts,

		JWKS:                    md.JWKS,
		JWKSURI:                 md.JWKSURI,
		TokenEndpointAuthMethod: authMethod,

		RedirectURIs:  md.RedirectURIs,
		ResponseTypes: responseTypes,
		GrantTypes:    grantTypes,
		Scopes:        scopes,
		RequestURIs:   md.RequestURIs,

		SubjectType:                 subjectType,
		SectorIdentifierURI:         md.SectorIdentifierURI,
		IDTokenSignedResponseAlg:    md.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: md.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: md.IDTokenEncryptedResponseEnc,
		UserInfoSignedResponseAlg:   md.UserInfoSignedResponseAlg,

		FrontchannelLogoutURI:             md.FrontchannelLogoutURI,
		FrontchannelLogoutSessionRequired: md.FrontchannelLogoutSessionRequired,
		BackchannelLogoutURI:              md.BackchannelLogoutURI,
		BackchannelLogoutSessionRequired:  md.BackchannelLogoutSessionRequired,
		PostLogoutRedirectURIs:            md.PostLogoutRedirectURIs,

		CertificateBoundTokens: md.CertificateBoundTokens,

		// Dynamically registered clients always use PKCE.
		RequirePKCE: true,
	}
	if tls := tlsMetadata(md); tls != nil {
		c.TLS = tls
	}

	if subjectType == oauth.SubjectTypePairwise && md.SectorIdentifierURI != "" {
		if oerr := s.validateSectorIdentifier(ctx, md); oerr != nil {
			return nil, oerr
		}
	}

	// ID is not assigned yet; satisfy the model invariant check with a
	// placeholder and strip it again.
	c.ID = "pending"
	if err := c.Validate(); err != nil {
		return nil, oidcerr.Validate(oidcerr.CodeInvalidClientMetadata, err.Error())
	}
	c.ID = ""
	return c, nil
}

func (s *Service) validateRedirectURIs(md *Metadata, grantTypes []string) *oidcerr.Error {
	needsRedirect := slices.Contains(grantTypes, oauth.GrantTypeAuthorizationCode)
	if needsRedirect && len(md.RedirectURIs) == 0 {
		return oidcerr.Validate(oidcerr.CodeInvalidRedirectURI,
			"redirect_uris is required for the authorization_code grant")
	}
	if len(md.RedirectURIs) > MaxRedirectURIs {
		return oidcerr.Validate(oidcerr.CodeInvalidRedirectURI, "").
			WithDescriptionf("too many redirect_uris (maximum %d)", MaxRedirectURIs)
	}
	for _, u := range md.RedirectURIs {
		if oerr := validateRedirectURI(u); oerr != nil {
			return oerr
		}
	}
	return nil
}

// validateRedirectURI applies the RFC 8252 policy: https anywhere, http
// only on the loopback interface, never a fragment.
func validateRedirectURI(raw string) *oidcerr.Error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return oidcerr.Validate(oidcerr.CodeInvalidRedirectURI, "redirect URI must be absolute")
	}
	if u.Fragment != "" {
		return oidcerr.Validate(oidcerr.CodeInvalidRedirectURI, "redirect URI must not contain a fragment")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(u.Hostname()) {
			return nil
		}
		return oidcerr.Validate(oidcerr.CodeInvalidRedirectURI,
			"http redirect URIs are only allowed on the loopback interface")
	default:
		return oidcerr.Validate(oidcerr.CodeInvalidRedirectURI, "redirect URI scheme must be https")
	}
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (s *Service) validateKeys(md *Metadata, authMethod string) *oidcerr.Error {
	if len(md.JWKS) > 0 && md.JWKSURI != "" {
		return metadataErr("jwks and jwks_uri are mutually exclusive")
	}
	if md.JWKSURI != "" && !isHTTPS(md.JWKSURI) {
		return metadataErr("jwks_uri must be an absolute https URI")
	}

	switch authMethod {
	case oauth.TokenEndpointAuthMethodPrivateKeyJWT:
		if len(md.JWKS) == 0 && md.JWKSURI == "" {
			return metadataErr("private_key_jwt requires jwks or jwks_uri")
		}
	case oauth.TokenEndpointAuthMethodTLSClientAuth:
		if tlsSubjectFields(md) != 1 {
			return metadataErr("tls_client_auth requires exactly one subject registration field")
		}
	case oauth.TokenEndpointAuthMethodSelfSignedTLSAuth:
		if len(md.JWKS) == 0 && md.JWKSURI == "" {
			return metadataErr("self_signed_tls_client_auth requires jwks or jwks_uri")
		}
	}
	return nil
}

func (s *Service) validateAlgs(md *Metadata) *oidcerr.Error {
	if len(s.cfg.SigningAlgs) == 0 {
		return nil
	}
	for _, alg := range []string{md.IDTokenSignedResponseAlg, md.UserInfoSignedResponseAlg} {
		if alg != "" && !slices.Contains(s.cfg.SigningAlgs, alg) {
			return metadataErr("unsupported signing algorithm %q", alg)
		}
	}
	if md.IDTokenEncryptedResponseAlg != "" {
		if !slices.Contains(jwt.SupportedKeyManagementAlgorithms, jose.KeyAlgorithm(md.IDTokenEncryptedResponseAlg)) {
			return metadataErr("unsupported encryption algorithm %q", md.IDTokenEncryptedResponseAlg)
		}
		if len(md.JWKS) == 0 && md.JWKSURI == "" {
			return metadataErr("id_token_encrypted_response_alg requires jwks or jwks_uri")
		}
	}
	if md.IDTokenEncryptedResponseEnc != "" {
		if md.IDTokenEncryptedResponseAlg == "" {
			return metadataErr("id_token_encrypted_response_enc requires id_token_encrypted_response_alg")
		}
		if !slices.Contains(jwt.SupportedContentEncryptions, jose.ContentEncryption(md.IDTokenEncryptedResponseEnc)) {
			return metadataErr("unsupported content encryption %q", md.IDTokenEncryptedResponseEnc)
		}
	}
	return nil
}

func (s *Service) validateScope(scope string) ([]string, *oidcerr.Error) {
	if scope == "" {
		return nil, nil
	}
	scopes := strings.Fields(scope)
	if len(s.cfg.Scopes) > 0 {
		for _, sc := range scopes {
			if !slices.Contains(s.cfg.Scopes, sc) {
				return nil, metadataErr("unknown scope %q", sc)
			}
		}
	}
	return scopes, nil
}

// validateSectorIdentifier dereferences sector_identifier_uri (OIDC Core
// §8.1) and requires the registered redirect URIs to be a subset of the
// published document.
func (s *Service) validateSectorIdentifier(ctx context.Context, md *Metadata) *oidcerr.Error {
	if !isHTTPS(md.SectorIdentifierURI) {
		return metadataErr("sector_identifier_uri must be an absolute https URI")
	}

	published, err := networking.FetchJSON[[]string](ctx, s.http, md.SectorIdentifierURI)
	if err != nil {
		logger.Debugw("sector_identifier_uri fetch failed", "uri", md.SectorIdentifierURI, "error", err)
		return metadataErr("sector_identifier_uri could not be retrieved")
	}
	for _, u := range md.RedirectURIs {
		if !slices.Contains(published, u) {
			return metadataErr("redirect URI %q is not listed at the sector_identifier_uri", u)
		}
	}
	return nil
}

// provisionSecret generates and installs a secret when the auth method
// needs one, returning the cleartext for the response.
func (s *Service) provisionSecret(c *client.Client) (string, *oidcerr.Error) {
	if !usesSecret(c.TokenEndpointAuthMethod) {
		return "", nil
	}

	secret := crypto.RandomToken(secretBytes)
	hash, err := client.HashSecret(secret, client.SecretHashSHA256)
	if err != nil {
		logger.Errorw("hashing client secret failed", "error", err)
		return "", oidcerr.ServerError(oidcerr.StageProcess)
	}
	c.Secret = &client.Secret{Hash: hash, Algorithm: client.SecretHashSHA256}
	if s.cfg.SecretLifetime > 0 {
		c.Secret.ExpiresAt = s.now().Add(s.cfg.SecretLifetime)
	}
	// client_secret_jwt needs the raw secret as its MAC key.
	if c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodSecretJWT {
		c.Secret.Value = secret
	}
	return secret, nil
}

func (s *Service) response(c *client.Client, secret string) *Registration {
	resp := &Registration{
		ClientID:     c.ID,
		ClientSecret: secret,
		Metadata: Metadata{
			RedirectURIs:            c.RedirectURIs,
			TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
			GrantTypes:              c.GrantTypes,
			ResponseTypes:           c.ResponseTypes,
			ClientName:              c.Name,
			ClientURI:               c.URI,
			Contacts:                c.Contacts,
			Scope:                   strings.Join(c.Scopes, " "),
			JWKSURI:                 c.JWKSURI,
			JWKS:                    c.JWKS,
			RequestURIs:             c.RequestURIs,

			SubjectType:                 c.SubjectType,
			SectorIdentifierURI:         c.SectorIdentifierURI,
			IDTokenSignedResponseAlg:    c.IDTokenSignedResponseAlg,
			IDTokenEncryptedResponseAlg: c.IDTokenEncryptedResponseAlg,
			IDTokenEncryptedResponseEnc: c.IDTokenEncryptedResponseEnc,
			UserInfoSignedResponseAlg:   c.UserInfoSignedResponseAlg,

			FrontchannelLogoutURI:             c.FrontchannelLogoutURI,
			FrontchannelLogoutSessionRequired: c.FrontchannelLogoutSessionRequired,
			BackchannelLogoutURI:              c.BackchannelLogoutURI,
			BackchannelLogoutSessionRequired:  c.BackchannelLogoutSessionRequired,
			PostLogoutRedirectURIs:            c.PostLogoutRedirectURIs,

			CertificateBoundTokens: c.CertificateBoundTokens,
		},
	}
	if !c.CreatedAt.IsZero() {
		resp.ClientIDIssuedAt = c.CreatedAt.Unix()
	}
	if c.Secret != nil && !c.Secret.ExpiresAt.IsZero() {
		resp.ClientSecretExpiresAt = c.Secret.ExpiresAt.Unix()
	}
	if c.TLS != nil {
		resp.TLSClientAuthSubjectDN = c.TLS.SubjectDN
		resp.TLSClientAuthSANDNS = c.TLS.SANDNS
		resp.TLSClientAuthSANURI = c.TLS.SANURI
		resp.TLSClientAuthSANIP = c.TLS.SANIP
		resp.TLSClientAuthSANEmail = c.TLS.SANEmail
	}
	if s.cfg.RegistrationEndpoint != "" {
		resp.RegistrationClientURI = strings.TrimSuffix(s.cfg.RegistrationEndpoint, "/") + "/" + c.ID
	}
	return resp
}

func tlsMetadata(md *Metadata) *client.TLSClientAuth {
	if tlsSubjectFields(md) == 0 {
		return nil
	}
	return &client.TLSClientAuth{
		SubjectDN: md.TLSClientAuthSubjectDN,
		SANDNS:    md.TLSClientAuthSANDNS,
		SANURI:    md.TLSClientAuthSANURI,
		SANIP:     md.TLSClientAuthSANIP,
		SANEmail:  md.TLSClientAuthSANEmail,
	}
}

func tlsSubjectFields(md *Metadata) int {
	n := 0
	for _, v := range []string{
		md.TLSClientAuthSubjectDN, md.TLSClientAuthSANDNS,
		md.TLSClientAuthSANURI, md.TLSClientAuthSANIP, md.TLSClientAuthSANEmail,
	} {
		if v != "" {
			n++
		}
	}
	return n
}

func usesSecret(authMethod string) bool {
	switch authMethod {
	case oauth.TokenEndpointAuthMethodBasic,
		oauth.TokenEndpointAuthMethodPost,
		oauth.TokenEndpointAuthMethodSecretJWT:
		return true
	}
	return false
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Scheme == "https"
}

func metadataErr(format string, args ...any) *oidcerr.Error {
	return oidcerr.Validate(oidcerr.CodeInvalidClientMetadata, "").WithDescriptionf(format, args...)
}
