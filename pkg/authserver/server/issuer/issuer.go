// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package issuer mints every token the server hands out: JWT access
// tokens, rotating refresh tokens, ID tokens, logout tokens and JARM
// response objects. Access and refresh tokens are registered in the token
// registry by jti so introspection, revocation and rotation can reason
// about them later.
package issuer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/keys"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// Default token lifetimes.
const (
	DefaultAccessTokenLifetime  = time.Hour
	DefaultRefreshTokenLifetime = 30 * 24 * time.Hour
	DefaultIDTokenLifetime      = time.Hour
	DefaultLogoutTokenLifetime  = 2 * time.Minute
	DefaultJARMLifetime         = time.Minute
)

// Config holds the issuer-level token settings.
type Config struct {
	// Issuer is the server's issuer identifier.
	Issuer string

	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	IDTokenLifetime      time.Duration

	// PairwiseSalt feeds pairwise subject derivation. Required when any
	// client registers subject_type=pairwise.
	PairwiseSalt string
}

func (c *Config) accessLifetime() time.Duration {
	if c.AccessTokenLifetime > 0 {
		return c.AccessTokenLifetime
	}
	return DefaultAccessTokenLifetime
}

func (c *Config) refreshLifetime() time.Duration {
	if c.RefreshTokenLifetime > 0 {
		return c.RefreshTokenLifetime
	}
	return DefaultRefreshTokenLifetime
}

func (c *Config) idTokenLifetime() time.Duration {
	if c.IDTokenLifetime > 0 {
		return c.IDTokenLifetime
	}
	return DefaultIDTokenLifetime
}

// Private claims carried by refresh tokens so rotation can rebuild the
// grant without a server-side lookup.
const (
	ClaimGrantID   = "grant_id"
	ClaimResources = "resources"
)

// IssuedToken is a minted token together with its registry identity.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Issuer mints tokens against the server's signing keys.
type Issuer struct {
	cfg    Config
	keys   *keys.Manager
	tokens storage.TokenRegistry

	now func() time.Time
}

// New creates an Issuer.
func New(cfg Config, km *keys.Manager, tokens storage.TokenRegistry) *Issuer {
	return &Issuer{cfg: cfg, keys: km, tokens: tokens, now: time.Now}
}

// Subject returns the token subject for a client: the raw local subject
// for public subject types, a sector-scoped hash for pairwise clients
// (OIDC Core §8.1).
func (i *Issuer) Subject(c *client.Client, sub string) string {
	if c.SubjectType != oauth.SubjectTypePairwise {
		return sub
	}
	sum := sha256.Sum256([]byte(c.SectorIdentifier() + sub + i.cfg.PairwiseSalt))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AccessToken mints a JWT access token (RFC 9068) for a grant and records
// it in the token registry.
func (i *Issuer) AccessToken(ctx context.Context, grant *storage.Grant, c *client.Client) (*IssuedToken, error) {
	now := i.now()
	lifetime := i.cfg.accessLifetime()
	if c.AccessTokenLifespan > 0 {
		lifetime = c.AccessTokenLifespan
	}
	exp := now.Add(lifetime)
	jti := crypto.RandomToken(16)

	claims := jwt.NewClaims().
		Set(jwt.ClaimIssuer, i.cfg.Issuer).
		Set(jwt.ClaimSubject, i.Subject(c, grant.Subject)).
		Set(jwt.ClaimAudience, i.audience(grant)).
		Set(jwt.ClaimClientID, grant.ClientID).
		Set(jwt.ClaimJTI, jti).
		SetTime(jwt.ClaimIssuedAt, now).
		SetTime(jwt.ClaimExpiresAt, exp)
	if len(grant.Scopes) > 0 {
		claims.Set(jwt.ClaimScope, strings.Join(grant.Scopes, " "))
	}
	if grant.CertThumbprint != "" {
		claims.Set(jwt.ClaimCnf, map[string]any{"x5t#S256": grant.CertThumbprint})
	}
	// Identity claims ride along so the userinfo endpoint can answer from
	// the token alone.
	for name, value := range grant.Claims {
		claims.Set(name, value)
	}

	signer, err := i.keys.Signer("")
	if err != nil {
		return nil, err
	}
	token, err := signer.Sign(claims, jwt.TypeAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	if err := i.register(ctx, jti, grant.GrantID, exp); err != nil {
		return nil, err
	}
	return &IssuedToken{Token: token, JTI: jti, ExpiresAt: exp}, nil
}

// RefreshToken mints a refresh token for a grant. Refresh tokens are JWTs
// so rotation can verify them offline before consulting the registry.
func (i *Issuer) RefreshToken(ctx context.Context, grant *storage.Grant, c *client.Client) (*IssuedToken, error) {
	now := i.now()
	lifetime := i.cfg.refreshLifetime()
	if c.RefreshTokenLifespan > 0 {
		lifetime = c.RefreshTokenLifespan
	}
	exp := now.Add(lifetime)
	jti := crypto.RandomToken(16)

	claims := jwt.NewClaims().
		Set(jwt.ClaimIssuer, i.cfg.Issuer).
		Set(jwt.ClaimSubject, grant.Subject).
		Set(jwt.ClaimAudience, i.cfg.Issuer).
		Set(jwt.ClaimClientID, grant.ClientID).
		Set(jwt.ClaimJTI, jti).
		Set(ClaimGrantID, grant.GrantID).
		SetTime(jwt.ClaimIssuedAt, now).
		SetTime(jwt.ClaimExpiresAt, exp)
	if len(grant.Scopes) > 0 {
		claims.Set(jwt.ClaimScope, strings.Join(grant.Scopes, " "))
	}
	if len(grant.Audience) > 0 {
		claims.Set(ClaimResources, grant.Audience)
	}
	if grant.SessionID != "" {
		claims.Set(jwt.ClaimSessionID, grant.SessionID)
	}

	signer, err := i.keys.Signer("")
	if err != nil {
		return nil, err
	}
	token, err := signer.Sign(claims, jwt.TypeRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	if err := i.register(ctx, jti, grant.GrantID, exp); err != nil {
		return nil, err
	}
	return &IssuedToken{Token: token, JTI: jti, ExpiresAt: exp}, nil
}

// IDTokenOptions carries the flow-dependent extras of an ID token.
type IDTokenOptions struct {
	// AccessToken and Code, when set, produce at_hash and c_hash.
	AccessToken string
	Code        string

	// SessionState is echoed for OIDC session management.
	SessionState string
}

// IDToken mints an ID token for a grant. The signing algorithm follows
// the client's id_token_signed_response_alg registration.
func (i *Issuer) IDToken(_ context.Context, grant *storage.Grant, c *client.Client, opts IDTokenOptions) (string, error) {
	now := i.now()

	claims := jwt.NewClaims().
		Set(jwt.ClaimIssuer, i.cfg.Issuer).
		Set(jwt.ClaimSubject, i.Subject(c, grant.Subject)).
		Set(jwt.ClaimAudience, c.ID).
		SetTime(jwt.ClaimIssuedAt, now).
		SetTime(jwt.ClaimExpiresAt, now.Add(i.cfg.idTokenLifetime()))

	if grant.Nonce != "" {
		claims.Set(jwt.ClaimNonce, grant.Nonce)
	}
	if grant.ACR != "" {
		claims.Set(jwt.ClaimACR, grant.ACR)
	}
	if len(grant.AMR) > 0 {
		claims.Set(jwt.ClaimAMR, grant.AMR)
	}
	if !grant.AuthTime.IsZero() {
		claims.SetTime(jwt.ClaimAuthTime, grant.AuthTime)
	}
	if grant.SessionID != "" {
		claims.Set(jwt.ClaimSessionID, grant.SessionID)
	}
	for name, value := range grant.Claims {
		claims.Set(name, value)
	}

	alg := jose.SignatureAlgorithm(c.IDTokenSignedResponseAlg)
	signer, err := i.keys.Signer(alg)
	if err != nil {
		return "", err
	}

	if opts.AccessToken != "" {
		claims.Set("at_hash", halfHash(opts.AccessToken, signer.Algorithm()))
	}
	if opts.Code != "" {
		claims.Set("c_hash", halfHash(opts.Code, signer.Algorithm()))
	}

	token, err := signer.Sign(claims, jwt.TypeJWT)
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}

	if c.IDTokenEncryptedResponseAlg != "" {
		return i.encryptForClient(c, token, c.IDTokenEncryptedResponseAlg, c.IDTokenEncryptedResponseEnc)
	}
	return token, nil
}

// encryptForClient wraps a signed token in a JWE addressed to the client's
// registered encryption key (OIDC Core §10.2).
func (i *Issuer) encryptForClient(c *client.Client, signed, alg, enc string) (string, error) {
	if enc == "" {
		// OIDC Core §10.2: the default content encryption.
		enc = string(jose.A128CBC_HS256)
	}
	key, err := clientEncryptionKey(c, jose.KeyAlgorithm(alg))
	if err != nil {
		return "", err
	}
	encrypter, err := jwt.NewEncrypter(key, jose.KeyAlgorithm(alg), jose.ContentEncryption(enc))
	if err != nil {
		return "", err
	}
	return encrypter.EncryptJWT(signed)
}

// clientEncryptionKey selects an encryption key from the client's
// registered JWKS. Keys marked use=sig are skipped; the first key whose
// type fits the algorithm wins.
func clientEncryptionKey(c *client.Client, alg jose.KeyAlgorithm) (*jose.JSONWebKey, error) {
	if len(c.JWKS) == 0 {
		return nil, fmt.Errorf("client %s requests encrypted responses but registered no jwks", c.ID)
	}
	set, err := jwt.UnmarshalJWKS(c.JWKS)
	if err != nil {
		return nil, fmt.Errorf("client %s jwks is invalid: %w", c.ID, err)
	}
	for idx := range set.Keys {
		k := &set.Keys[idx]
		if k.Use == "sig" {
			continue
		}
		switch alg {
		case jose.RSA_OAEP_256:
			if _, ok := k.Key.(*rsa.PublicKey); ok {
				return k, nil
			}
		case jose.ECDH_ES_A128KW:
			if _, ok := k.Key.(*ecdsa.PublicKey); ok {
				return k, nil
			}
		}
	}
	return nil, fmt.Errorf("client %s jwks has no key usable with %s", c.ID, alg)
}

// LogoutToken mints a back-channel logout token (OIDC Back-Channel Logout
// §2.4) carrying the events claim plus sub and/or sid.
func (i *Issuer) LogoutToken(c *client.Client, sub, sid string) (string, error) {
	if sub == "" && sid == "" {
		return "", fmt.Errorf("logout token requires a sub or sid")
	}

	now := i.now()
	claims := jwt.NewClaims().
		Set(jwt.ClaimIssuer, i.cfg.Issuer).
		Set(jwt.ClaimAudience, c.ID).
		Set(jwt.ClaimJTI, crypto.RandomToken(16)).
		SetTime(jwt.ClaimIssuedAt, now).
		SetTime(jwt.ClaimExpiresAt, now.Add(DefaultLogoutTokenLifetime)).
		Set(jwt.ClaimEvents, map[string]any{oauth.BackchannelLogoutEvent: map[string]any{}})
	if sub != "" {
		claims.Set(jwt.ClaimSubject, i.Subject(c, sub))
	}
	if sid != "" {
		claims.Set(jwt.ClaimSessionID, sid)
	}

	signer, err := i.keys.Signer("")
	if err != nil {
		return "", err
	}
	token, err := signer.Sign(claims, jwt.TypeLogoutToken)
	if err != nil {
		return "", fmt.Errorf("failed to sign logout token: %w", err)
	}
	return token, nil
}

// JARMResponse wraps authorization response parameters in a signed
// response JWT (JARM §4.1).
func (i *Issuer) JARMResponse(c *client.Client, params url.Values) (string, error) {
	now := i.now()
	claims := jwt.NewClaims().
		Set(jwt.ClaimIssuer, i.cfg.Issuer).
		Set(jwt.ClaimAudience, c.ID).
		SetTime(jwt.ClaimExpiresAt, now.Add(DefaultJARMLifetime))
	for name := range params {
		claims.Set(name, params.Get(name))
	}

	signer, err := i.keys.Signer("")
	if err != nil {
		return "", err
	}
	token, err := signer.Sign(claims, jwt.TypeJARM)
	if err != nil {
		return "", fmt.Errorf("failed to sign response object: %w", err)
	}
	return token, nil
}

// Verify checks a token the server issued: signature against the current
// verification keys and iss against the configured issuer.
func (i *Issuer) Verify(token string) (*jwt.Token, error) {
	verification := i.keys.VerificationKeys()
	jwks := make([]jose.JSONWebKey, 0, len(verification))
	for _, k := range verification {
		jwks = append(jwks, k.JWK())
	}

	return jwt.NewVerifier(jwks).Verify(token, jwt.Expectations{
		Issuer:        i.cfg.Issuer,
		RequireExpiry: true,
		Now:           i.now,
	})
}

// VerifyIDTokenHint checks an id_token_hint presented at logout. The
// signature and issuer must hold, but expiry is forgiven: an expired ID
// token still proves the session it names existed.
func (i *Issuer) VerifyIDTokenHint(token string) (*jwt.Token, error) {
	verification := i.keys.VerificationKeys()
	jwks := make([]jose.JSONWebKey, 0, len(verification))
	for _, k := range verification {
		jwks = append(jwks, k.JWK())
	}

	return jwt.NewVerifier(jwks).Verify(token, jwt.Expectations{
		Issuer:        i.cfg.Issuer,
		AcceptExpired: true,
		Now:           i.now,
	})
}

func (i *Issuer) audience(grant *storage.Grant) any {
	if len(grant.Audience) > 0 {
		return grant.Audience
	}
	return i.cfg.Issuer
}

func (i *Issuer) register(ctx context.Context, jti, grantID string, exp time.Time) error {
	err := i.tokens.RegisterToken(ctx, jti, &storage.TokenRecord{
		Status:    storage.StatusIssued,
		GrantID:   grantID,
		ExpiresAt: exp,
	})
	if err != nil {
		return fmt.Errorf("failed to register token: %w", err)
	}
	return nil
}

// halfHash computes the OIDC at_hash / c_hash value: the left half of the
// signing algorithm's hash, base64url encoded.
func halfHash(value string, alg jose.SignatureAlgorithm) string {
	var h hash.Hash
	switch alg {
	case jose.RS384, jose.PS384, jose.ES384:
		h = sha512.New384()
	case jose.RS512, jose.PS512, jose.ES512:
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
