// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registration"
)

// maxRegistrationBody bounds client metadata documents. Big JWKS
// documents fit comfortably; nothing legitimate comes close.
const maxRegistrationBody = 256 << 10

// Register handles dynamic client registration (RFC 7591 §3).
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	md, ok := h.decodeMetadata(w, r)
	if !ok {
		return
	}
	resp, oerr := h.deps.Registration.Register(r.Context(), md)
	if oerr != nil {
		h.writeError(w, "register", oerr)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RegistrationGet handles RFC 7592 §2.1 client reads.
func (h *Handler) RegistrationGet(w http.ResponseWriter, r *http.Request) {
	resp, oerr := h.deps.Registration.Get(r.Context(), chi.URLParam(r, "clientID"), bearerToken(r))
	if oerr != nil {
		h.writeError(w, "register", oerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegistrationUpdate handles RFC 7592 §2.2 client updates.
func (h *Handler) RegistrationUpdate(w http.ResponseWriter, r *http.Request) {
	md, ok := h.decodeMetadata(w, r)
	if !ok {
		return
	}
	resp, oerr := h.deps.Registration.Update(r.Context(), chi.URLParam(r, "clientID"), bearerToken(r), md)
	if oerr != nil {
		h.writeError(w, "register", oerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegistrationDelete handles RFC 7592 §2.3 client deprovisioning.
func (h *Handler) RegistrationDelete(w http.ResponseWriter, r *http.Request) {
	if oerr := h.deps.Registration.Delete(r.Context(), chi.URLParam(r, "clientID"), bearerToken(r)); oerr != nil {
		h.writeError(w, "register", oerr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeMetadata(w http.ResponseWriter, r *http.Request) (*registration.Metadata, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBody)
	var md registration.Metadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		h.writeError(w, "register",
			oidcerr.Validate(oidcerr.CodeInvalidClientMetadata, "request body is not valid JSON"))
		return nil, false
	}
	return &md, true
}
