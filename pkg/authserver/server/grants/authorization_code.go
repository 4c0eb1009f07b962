// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// AuthorizationCode redeems one-time authorization codes. A replayed code
// revokes every token minted from the first redemption (RFC 6749 §4.1.2,
// OAuth Security BCP §4.5.3).
type AuthorizationCode struct {
	Codes  storage.CodeStore
	Tokens storage.TokenRegistry
	Issuer *issuer.Issuer
}

// GrantType implements Processor.
func (*AuthorizationCode) GrantType() string { return oauth.GrantTypeAuthorizationCode }

// Process implements Processor.
func (p *AuthorizationCode) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	code := tr.Params.Get(request.ParamCode)
	if code == "" {
		return nil, oidcerr.Invalid("code is required")
	}

	rec, err := p.Codes.ConsumeCode(ctx, code)
	switch {
	case errors.Is(err, storage.ErrCodeConsumed):
		// Replay. The first redemption may have gone to an attacker, so
		// everything descending from this code dies.
		logger.Warnw("authorization code replayed, revoking grant",
			"client_id", tr.Client.ID, "grant_id", rec.Grant.GrantID)
		if revokeErr := p.Tokens.RevokeGrant(ctx, rec.Grant.GrantID); revokeErr != nil {
			logger.Errorw("grant revocation failed", "grant_id", rec.Grant.GrantID, "error", revokeErr)
		}
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "authorization code is invalid")
	case errors.Is(err, storage.ErrNotFound):
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "authorization code is invalid")
	case err != nil:
		logger.Errorw("code consumption failed", "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	if time.Now().After(rec.ExpiresAt) {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "authorization code has expired")
	}
	if rec.Grant.ClientID != tr.Client.ID {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "authorization code was issued to a different client")
	}
	if oerr := p.checkRedirectURI(tr, rec); oerr != nil {
		return nil, oerr
	}
	if oerr := checkPKCE(tr, rec); oerr != nil {
		return nil, oerr
	}

	return issueTokens(ctx, p.Issuer, tr, &rec.Grant, issuer.IDTokenOptions{Code: code})
}

// checkRedirectURI enforces RFC 6749 §4.1.3: when a redirect_uri was sent
// on the authorization request, the token request must repeat it exactly.
func (*AuthorizationCode) checkRedirectURI(tr *TokenRequest, rec *storage.CodeRecord) *oidcerr.Error {
	presented := tr.Params.Get(request.ParamRedirectURI)
	if rec.RedirectURI == "" {
		return nil
	}
	if presented != rec.RedirectURI {
		return oidcerr.Process(oidcerr.CodeInvalidGrant, "redirect_uri does not match the authorization request")
	}
	return nil
}

func checkPKCE(tr *TokenRequest, rec *storage.CodeRecord) *oidcerr.Error {
	verifier := tr.Params.Get(request.ParamCodeVerifier)

	if rec.CodeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return oidcerr.Process(oidcerr.CodeInvalidGrant, "code_verifier is required")
	}

	if rec.CodeChallengeMethod == "plain" {
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(rec.CodeChallenge)) != 1 {
			return oidcerr.Process(oidcerr.CodeInvalidGrant, "code_verifier does not match the code_challenge")
		}
		return nil
	}

	if err := crypto.VerifyPKCE(verifier, rec.CodeChallenge); err != nil {
		return oidcerr.Process(oidcerr.CodeInvalidGrant, "code_verifier does not match the code_challenge")
	}
	return nil
}
