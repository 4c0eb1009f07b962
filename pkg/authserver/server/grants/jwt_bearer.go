// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// TrustedIssuer is an external token issuer whose assertions this server
// accepts for the JWT bearer grant (RFC 7523 §2.1).
type TrustedIssuer struct {
	// Issuer is the iss value of accepted assertions.
	Issuer string

	// JWKSURI is where the issuer publishes its verification keys.
	JWKSURI string
}

// JWTBearer exchanges an externally-issued assertion for a local access
// token. Assertions must come from a configured trusted issuer, be
// audience-restricted to this server, and carry a fresh jti.
type JWTBearer struct {
	// Audience is this server's issuer identifier, the required
	// assertion audience.
	Audience string

	TrustedIssuers []TrustedIssuer
	RemoteKeys     *jwks.Client
	Replay         storage.ReplayCache
	Issuer         *issuer.Issuer
}

// GrantType implements Processor.
func (*JWTBearer) GrantType() string { return oauth.GrantTypeJWTBearer }

// Process implements Processor.
func (p *JWTBearer) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	assertion := tr.Params.Get(request.ParamAssertion)
	if assertion == "" {
		return nil, oidcerr.Invalid("assertion is required")
	}

	trusted := p.trustedFor(peekIssuer(assertion))
	if trusted == nil {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "assertion issuer is not trusted")
	}

	set, err := p.RemoteKeys.JoseKeys(ctx, trusted.JWKSURI)
	if err != nil {
		logger.Errorw("trusted issuer JWKS fetch failed", "issuer", trusted.Issuer, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	token, err := jwt.NewVerifier(set.Keys).Verify(assertion, jwt.Expectations{
		Issuer:        trusted.Issuer,
		Audience:      p.Audience,
		Algorithms:    assertionAlgorithms,
		RequireExpiry: true,
	})
	if err != nil {
		logger.Debugw("bearer assertion verification failed", "issuer", trusted.Issuer, "error", err)
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "assertion verification failed")
	}

	claims := token.Claims
	subject := claims.Subject()
	if subject == "" {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "assertion is missing the sub claim")
	}
	jti := claims.ID()
	if jti == "" {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "assertion is missing the jti claim")
	}
	exp, _ := claims.ExpiresAt()
	first, err := p.Replay.ObserveAssertion(ctx, trusted.Issuer+":"+jti, exp)
	if err != nil {
		logger.Errorw("assertion replay check failed", "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	if !first {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "assertion was already used")
	}

	grant := &storage.Grant{
		GrantID:  crypto.RandomToken(16),
		ClientID: tr.Client.ID,
		Subject:  subject,
	}
	if scope := tr.Params.Get(request.ParamScope); scope != "" {
		grant.Scopes = strings.Fields(scope)
	} else if scope := claims.Scope(); scope != "" {
		grant.Scopes = strings.Fields(scope)
	}

	access, err := p.Issuer.AccessToken(ctx, grant, tr.Client)
	if err != nil {
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	return &Response{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       strings.Join(grant.Scopes, " "),
	}, nil
}

func (p *JWTBearer) trustedFor(iss string) *TrustedIssuer {
	if iss == "" {
		return nil
	}
	for i := range p.TrustedIssuers {
		if p.TrustedIssuers[i].Issuer == iss {
			return &p.TrustedIssuers[i]
		}
	}
	return nil
}

// peekIssuer extracts the iss claim without verification, to select the
// trusted issuer whose keys verify the assertion.
func peekIssuer(assertion string) string {
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Issuer string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Issuer
}

var assertionAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
}
