// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/clientauth"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/grants"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/validate"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// Token handles the token endpoint. Client authentication runs first;
// the grant dispatcher takes it from there.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, ok := h.authenticateClient(w, r, "token")
	if !ok {
		return
	}
	c, oerr := h.deps.Auth.Authenticate(ctx, creds)
	if oerr != nil {
		h.writeError(w, "token", oerr)
		return
	}

	req, err := request.FromHTTP(r)
	if err != nil {
		h.writeError(w, "token", oidcerr.Invalid("malformed request body"))
		return
	}

	tr := &grants.TokenRequest{Params: req, Client: c}
	if creds.Certificate != nil {
		tr.CertThumbprint = clientauth.CertificateThumbprint(creds.Certificate)
	}

	resp, oerr := h.deps.Grants.Process(ctx, tr)
	if oerr != nil {
		h.writeError(w, "token", oerr)
		return
	}

	h.deps.Metrics.TokenIssued(req.Get(request.ParamGrantType))
	writeJSON(w, http.StatusOK, resp)
}

// pushedAuthorizationResponse is the PAR success payload (RFC 9126 §2.2).
type pushedAuthorizationResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

// PushedAuthorization handles the pushed authorization request endpoint.
// The request is validated in full at push time, so the later
// authorization request only needs the reference.
func (h *Handler) PushedAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, ok := h.authenticateClient(w, r, "par")
	if !ok {
		return
	}
	c, oerr := h.deps.Auth.Authenticate(ctx, creds)
	if oerr != nil {
		h.writeError(w, "par", oerr)
		return
	}

	req, err := request.FromHTTP(r)
	if err != nil {
		h.writeError(w, "par", oidcerr.Invalid("malformed request body"))
		return
	}
	if req.Has(request.ParamRequestURI) {
		h.writeError(w, "par", oidcerr.Invalid("request_uri must not be used in a pushed request"))
		return
	}
	if id := req.ClientID(); id != "" && id != c.ID {
		h.writeError(w, "par", oidcerr.Invalid("client_id does not match the authenticated client"))
		return
	}
	req.Set(request.ParamClientID, c.ID)

	if oerr := h.deps.Fetchers.Run(ctx, req, c); oerr != nil {
		h.writeError(w, "par", oerr)
		return
	}

	// Session-dependent checks (prompt, max_age) wait for the
	// authorization endpoint; everything else is settled now.
	vc := &validate.Context{Request: req, Client: c}
	pipeline := validate.Pipeline{
		validate.RedirectURI,
		validate.ResponseType,
		validate.ResponseMode,
		validate.PKCE,
		validate.Resources(h.deps.Resources),
		validate.Scopes(h.deps.Scopes),
		validate.Nonce,
	}
	if oerr := pipeline.Run(ctx, vc); oerr != nil {
		h.writeError(w, "par", oerr)
		return
	}

	requestURI := oauth.PARRequestURIPrefix + crypto.RandomToken(32)
	rec := &storage.PushedRequest{
		ClientID:  c.ID,
		Params:    req.Values(),
		ExpiresAt: time.Now().Add(h.cfg.PARTTL),
	}
	if err := h.deps.Store.PutPushedRequest(ctx, requestURI, rec); err != nil {
		logger.Errorw("storing pushed request failed", "client_id", c.ID, "error", err)
		h.writeError(w, "par", oidcerr.ServerError(oidcerr.StageProcess))
		return
	}

	writeJSON(w, http.StatusCreated, &pushedAuthorizationResponse{
		RequestURI: requestURI,
		ExpiresIn:  int64(h.cfg.PARTTL.Seconds()),
	})
}

// DeviceAuthorization handles the RFC 8628 device authorization endpoint.
func (h *Handler) DeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, ok := h.authenticateClient(w, r, "device")
	if !ok {
		return
	}
	c, oerr := h.deps.Auth.Authenticate(ctx, creds)
	if oerr != nil {
		h.writeError(w, "device", oerr)
		return
	}
	if !c.AllowsGrantType(oauth.GrantTypeDeviceCode) {
		h.writeError(w, "device",
			oidcerr.Validate(oidcerr.CodeUnauthorizedClient, "client is not authorized for the device grant"))
		return
	}

	req, err := request.FromHTTP(r)
	if err != nil {
		h.writeError(w, "device", oidcerr.Invalid("malformed request body"))
		return
	}

	vc := &validate.Context{Request: req, Client: c}
	pipeline := validate.Pipeline{
		validate.Resources(h.deps.Resources),
		validate.Scopes(h.deps.Scopes),
	}
	if oerr := pipeline.Run(ctx, vc); oerr != nil {
		h.writeError(w, "device", oerr)
		return
	}

	resp, oerr := h.deps.Device.Start(ctx, c, vc.ScopeNames(), vc.Audience())
	if oerr != nil {
		h.writeError(w, "device", oerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// BackchannelAuthentication handles the CIBA backchannel authentication
// endpoint (poll mode).
func (h *Handler) BackchannelAuthentication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, ok := h.authenticateClient(w, r, "bc-authorize")
	if !ok {
		return
	}
	c, oerr := h.deps.Auth.Authenticate(ctx, creds)
	if oerr != nil {
		h.writeError(w, "bc-authorize", oerr)
		return
	}
	if !c.AllowsGrantType(oauth.GrantTypeCIBA) {
		h.writeError(w, "bc-authorize",
			oidcerr.Validate(oidcerr.CodeUnauthorizedClient, "client is not authorized for backchannel authentication"))
		return
	}

	req, err := request.FromHTTP(r)
	if err != nil {
		h.writeError(w, "bc-authorize", oidcerr.Invalid("malformed request body"))
		return
	}

	resp, oerr := h.deps.CIBA.Initiate(ctx, c, req)
	if oerr != nil {
		h.writeError(w, "bc-authorize", oerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
