// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// introspectionResponse is the RFC 7662 §2.2 payload. The zero value is
// the inactive response.
type introspectionResponse struct {
	Active    bool           `json:"active"`
	Scope     string         `json:"scope,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	TokenType string         `json:"token_type,omitempty"`
	Exp       int64          `json:"exp,omitempty"`
	Iat       int64          `json:"iat,omitempty"`
	Sub       string         `json:"sub,omitempty"`
	Aud       any            `json:"aud,omitempty"`
	Iss       string         `json:"iss,omitempty"`
	JTI       string         `json:"jti,omitempty"`
	Cnf       map[string]any `json:"cnf,omitempty"`
}

// Introspect handles RFC 7662 token introspection. Any defect in the
// presented token degrades to {"active": false}; detail would be an
// oracle for attackers holding guessed tokens.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, ok := h.authenticateClient(w, r, "introspect")
	if !ok {
		return
	}
	if _, oerr := h.deps.Auth.Authenticate(ctx, creds); oerr != nil {
		h.writeError(w, "introspect", oerr)
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		writeJSON(w, http.StatusOK, &introspectionResponse{})
		return
	}

	verified, err := h.deps.Issuer.Verify(token)
	if err != nil {
		writeJSON(w, http.StatusOK, &introspectionResponse{})
		return
	}
	status, err := h.deps.Store.TokenStatus(ctx, verified.Claims.ID())
	if err != nil {
		logger.Errorw("token status lookup failed", "jti", verified.Claims.ID(), "error", err)
		writeJSON(w, http.StatusOK, &introspectionResponse{})
		return
	}
	if status != storage.StatusIssued {
		writeJSON(w, http.StatusOK, &introspectionResponse{})
		return
	}

	resp := &introspectionResponse{
		Active:    true,
		Scope:     verified.Claims.Scope(),
		ClientID:  verified.Claims.ClientID(),
		TokenType: "Bearer",
		Sub:       verified.Claims.Subject(),
		Aud:       verified.Claims[jwt.ClaimAudience],
		Iss:       verified.Claims.Issuer(),
		JTI:       verified.Claims.ID(),
	}
	if exp, ok := verified.Claims.ExpiresAt(); ok {
		resp.Exp = exp.Unix()
	}
	if iat, ok := verified.Claims.IssuedAt(); ok {
		resp.Iat = iat.Unix()
	}
	if cnf, ok := verified.Claims[jwt.ClaimCnf].(map[string]any); ok {
		resp.Cnf = cnf
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles RFC 7009 token revocation. Per §2.2 the endpoint
// answers 200 regardless of whether the token was valid; revoking an
// already dead token is not an error.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, ok := h.authenticateClient(w, r, "revoke")
	if !ok {
		return
	}
	c, oerr := h.deps.Auth.Authenticate(ctx, creds)
	if oerr != nil {
		h.writeError(w, "revoke", oerr)
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	verified, err := h.deps.Issuer.Verify(token)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	// A client can only revoke its own tokens.
	if verified.Claims.ClientID() != c.ID {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Revoking a refresh token kills the whole grant; an access token
	// dies alone (RFC 7009 §2.1).
	if grantID, ok := verified.Claims[issuer.ClaimGrantID].(string); ok && grantID != "" {
		if err := h.deps.Store.RevokeGrant(ctx, grantID); err != nil {
			logger.Errorw("grant revocation failed", "grant_id", grantID, "error", err)
		}
	} else if err := h.deps.Store.SetTokenStatus(ctx, verified.Claims.ID(), storage.StatusRevoked); err != nil {
		logger.Errorw("token revocation failed", "jti", verified.Claims.ID(), "error", err)
	}

	w.WriteHeader(http.StatusOK)
}
