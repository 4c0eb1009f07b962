// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"strings"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// RefreshToken rotates refresh tokens. Every redemption invalidates the
// presented token and issues a fresh one; presenting an already-used
// token is treated as theft and revokes the whole grant family (OAuth
// Security BCP §4.14.2).
type RefreshToken struct {
	Tokens storage.TokenRegistry
	Issuer *issuer.Issuer
}

// GrantType implements Processor.
func (*RefreshToken) GrantType() string { return oauth.GrantTypeRefreshToken }

// Process implements Processor.
func (p *RefreshToken) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	raw := tr.Params.Get(request.ParamRefreshToken)
	if raw == "" {
		return nil, oidcerr.Invalid("refresh_token is required")
	}

	token, err := p.Issuer.Verify(raw)
	if err != nil {
		logger.Debugw("refresh token verification failed", "client_id", tr.Client.ID, "error", err)
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "refresh token is invalid")
	}
	claims := token.Claims
	if claims.ClientID() != tr.Client.ID {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "refresh token was issued to a different client")
	}

	jti := claims.ID()
	grantID, _ := claims[issuer.ClaimGrantID].(string)
	if jti == "" || grantID == "" {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "refresh token is invalid")
	}

	status, err := p.Tokens.TokenStatus(ctx, jti)
	if err != nil {
		logger.Errorw("token status lookup failed", "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	switch status {
	case storage.StatusIssued:
		// The live token; proceed with rotation.
	case storage.StatusUsed:
		// Reuse of a rotated-out token means the token leaked. Kill the
		// whole family.
		logger.Warnw("refresh token reuse detected, revoking grant",
			"client_id", tr.Client.ID, "grant_id", grantID)
		if revokeErr := p.Tokens.RevokeGrant(ctx, grantID); revokeErr != nil {
			logger.Errorw("grant revocation failed", "grant_id", grantID, "error", revokeErr)
		}
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "refresh token is invalid")
	default:
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "refresh token is invalid")
	}

	grant := grantFromRefreshClaims(claims, grantID)
	if oerr := narrowScopes(grant, tr.Params.Get(request.ParamScope)); oerr != nil {
		return nil, oerr
	}

	if err := p.Tokens.SetTokenStatus(ctx, jti, storage.StatusUsed); err != nil {
		logger.Errorw("refresh token rotation failed", "jti", jti, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	resp, oerr := issueTokens(ctx, p.Issuer, tr, grant, issuer.IDTokenOptions{})
	if oerr != nil {
		return nil, oerr
	}
	if resp.RefreshToken == "" {
		// The client dropped offline_access on narrowing; without a new
		// refresh token the rotation would strand the session, so keep
		// issuing one for the original grant.
		refresh, err := p.Issuer.RefreshToken(ctx, grant, tr.Client)
		if err != nil {
			logger.Errorw("refresh token issuance failed", "client_id", tr.Client.ID, "error", err)
			return nil, oidcerr.ServerError(oidcerr.StageProcess)
		}
		resp.RefreshToken = refresh.Token
	}
	return resp, nil
}

// grantFromRefreshClaims rebuilds the grant the refresh token descends
// from. Nonce, acr and amr are deliberately absent: they describe the
// original authentication event, not the refresh.
func grantFromRefreshClaims(claims jwt.Claims, grantID string) *storage.Grant {
	grant := &storage.Grant{
		GrantID:   grantID,
		ClientID:  claims.ClientID(),
		Subject:   claims.Subject(),
		SessionID: claims.SessionID(),
	}
	if scope := claims.Scope(); scope != "" {
		grant.Scopes = strings.Fields(scope)
	}
	if res, ok := claims[issuer.ClaimResources].([]any); ok {
		for _, r := range res {
			if s, ok := r.(string); ok {
				grant.Audience = append(grant.Audience, s)
			}
		}
	}
	return grant
}

// narrowScopes applies the optional scope parameter of a refresh request:
// the new scope must be a subset of the original grant (RFC 6749 §6).
func narrowScopes(grant *storage.Grant, requested string) *oidcerr.Error {
	if requested == "" {
		return nil
	}
	want := strings.Fields(requested)
	for _, s := range want {
		if !hasScope(grant.Scopes, s) {
			return oidcerr.Validate(oidcerr.CodeInvalidScope, "").
				WithDescriptionf("scope %q exceeds the original grant", s)
		}
	}
	grant.Scopes = want
	return nil
}
