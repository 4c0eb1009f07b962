// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/kestrelauth/kestrel/pkg/logger"
)

// Discovery serves the OpenID Provider metadata document. The document
// only changes on reconfiguration, so clients may cache it briefly.
func (h *Handler) Discovery(w http.ResponseWriter, _ *http.Request) {
	doc, err := h.deps.Discovery.Build()
	if err != nil {
		logger.Errorw("building discovery document failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, doc)
}

// JWKS serves the public signing keys.
func (h *Handler) JWKS(w http.ResponseWriter, _ *http.Request) {
	jwks, err := h.deps.Keys.PublicJWKS()
	if err != nil {
		logger.Errorw("building public JWKS failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jwks)
}
