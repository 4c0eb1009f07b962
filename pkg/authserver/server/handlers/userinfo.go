// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/authserver/clientauth"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// protocolClaims are access token claims that are transport plumbing, not
// statements about the user. The userinfo response never echoes them.
var protocolClaims = map[string]bool{
	jwt.ClaimIssuer:    true,
	jwt.ClaimAudience:  true,
	jwt.ClaimExpiresAt: true,
	jwt.ClaimIssuedAt:  true,
	jwt.ClaimNotBefore: true,
	jwt.ClaimJTI:       true,
	jwt.ClaimScope:     true,
	jwt.ClaimClientID:  true,
	jwt.ClaimCnf:       true,
	jwt.ClaimSessionID: true,
	jwt.ClaimACR:       true,
	jwt.ClaimAMR:       true,
	jwt.ClaimAuthTime:  true,
	jwt.ClaimNonce:     true,
}

// UserInfo handles the userinfo endpoint (OIDC Core §5.3). The access
// token carries the releasable claims, so no grant lookup is needed.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := bearerToken(r)
	if token == "" && r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			token = r.PostFormValue("access_token")
		}
	}
	if token == "" {
		writeBearerError(w, http.StatusUnauthorized, "", "")
		return
	}

	verified, err := h.deps.Issuer.Verify(token)
	if err != nil {
		writeBearerError(w, http.StatusUnauthorized, "invalid_token", "access token verification failed")
		return
	}
	if headerTyp(verified) != string(jwt.TypeAccessToken) {
		writeBearerError(w, http.StatusUnauthorized, "invalid_token", "token is not an access token")
		return
	}

	status, err := h.deps.Store.TokenStatus(ctx, verified.Claims.ID())
	if err != nil {
		logger.Errorw("token status lookup failed", "jti", verified.Claims.ID(), "error", err)
		writeBearerError(w, http.StatusUnauthorized, "invalid_token", "access token verification failed")
		return
	}
	if status != storage.StatusIssued {
		writeBearerError(w, http.StatusUnauthorized, "invalid_token", "access token is no longer active")
		return
	}

	if !hasScope(verified.Claims.Scope(), "openid") {
		writeBearerError(w, http.StatusForbidden, "insufficient_scope", "access token lacks the openid scope")
		return
	}

	if !h.certBindingHolds(r, verified.Claims) {
		writeBearerError(w, http.StatusUnauthorized, "invalid_token", "certificate binding check failed")
		return
	}

	body := jwt.Claims{jwt.ClaimSubject: verified.Claims.Subject()}
	for name, value := range verified.Claims {
		if protocolClaims[name] {
			continue
		}
		body[name] = value
	}

	c, lookupErr := h.deps.Store.GetClient(ctx, verified.Claims.ClientID())
	if lookupErr == nil && c.UserInfoSignedResponseAlg != "" {
		signed, signErr := h.signedUserInfo(body, c.UserInfoSignedResponseAlg, verified.Claims.ClientID())
		if signErr != nil {
			logger.Errorw("signing userinfo response failed", "client_id", c.ID, "error", signErr)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/jwt")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(signed))
		return
	}

	writeJSON(w, http.StatusOK, body)
}

// signedUserInfo wraps the userinfo claims in a JWT per OIDC Core §5.3.2:
// signed responses additionally carry iss and aud.
func (h *Handler) signedUserInfo(body jwt.Claims, alg, clientID string) (string, error) {
	claims := body.Clone().
		Set(jwt.ClaimIssuer, h.cfg.Issuer).
		Set(jwt.ClaimAudience, clientID)
	signer, err := h.deps.Keys.Signer(jose.SignatureAlgorithm(alg))
	if err != nil {
		return "", err
	}
	return signer.Sign(claims, jwt.TypeJWT)
}

// certBindingHolds enforces RFC 8705 §3: a cnf/x5t#S256 token is only
// good on a connection presenting the matching client certificate.
func (h *Handler) certBindingHolds(r *http.Request, claims jwt.Claims) bool {
	cnf, ok := claims[jwt.ClaimCnf].(map[string]any)
	if !ok {
		return true
	}
	want, _ := cnf["x5t#S256"].(string)
	if want == "" {
		return true
	}
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return false
	}
	return clientauth.CertificateThumbprint(r.TLS.PeerCertificates[0]) == want
}

// headerTyp returns the JOSE typ header of a verified token.
func headerTyp(t *jwt.Token) string {
	typ, _ := t.Header.ExtraHeaders[jose.HeaderType].(string)
	return typ
}

// hasScope reports whether a space-separated scope string contains name.
func hasScope(scope, name string) bool {
	for _, s := range strings.Fields(scope) {
		if s == name {
			return true
		}
	}
	return false
}

// writeBearerError answers a protected-resource request per RFC 6750 §3.
func writeBearerError(w http.ResponseWriter, status int, code, description string) {
	challenge := "Bearer"
	if code != "" {
		challenge += fmt.Sprintf(" error=%q", code)
	}
	if description != "" {
		challenge += fmt.Sprintf(", error_description=%q", description)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.WriteHeader(status)
}
