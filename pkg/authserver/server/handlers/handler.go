// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package handlers is the HTTP surface of the authorization server. Each
// endpoint handler parses and answers HTTP; all protocol decisions live
// in the services it delegates to.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kestrelauth/kestrel/pkg/authserver/clientauth"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registration"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/ciba"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/device"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/discovery"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/fetch"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/grants"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/keys"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/logout"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/session"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/routes"
	"github.com/kestrelauth/kestrel/pkg/telemetry"
)

// Config holds the handler-level settings.
type Config struct {
	// Issuer is the server's issuer identifier (RFC 9207 iss parameter).
	Issuer string

	// RequirePAR rejects authorization requests that did not arrive
	// through the pushed authorization request endpoint.
	RequirePAR bool

	// CodeTTL bounds authorization code validity.
	CodeTTL time.Duration

	// PARTTL bounds pushed request_uri validity.
	PARTTL time.Duration

	// Disabled lists route keys whose endpoints are not mounted.
	Disabled []string
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = time.Minute
	}
	if c.PARTTL <= 0 {
		c.PARTTL = storage.DefaultPushedRequestTTL
	}
	return c
}

// Authorizer is the host's bridge into the authorization endpoint. The
// engine validates requests and mints tokens; the host authenticates the
// end user and collects consent.
type Authorizer interface {
	// Session returns the authenticated browser session behind the
	// request, or nil when the user is not signed in.
	Session(r *http.Request) *request.AuthSession

	// Authorize returns the approval for a validated request. Returning
	// (nil, nil) means the host wrote the response itself, typically a
	// redirect to its login or consent page.
	Authorize(w http.ResponseWriter, r *http.Request, ar *AuthorizeRequest) (*request.AuthorizedGrant, *oidcerr.Error)
}

// Deps are the services the handlers delegate to.
type Deps struct {
	Store        storage.Storage
	Auth         *clientauth.Registry
	Fetchers     fetch.Chain
	Scopes       *registry.ScopeManager
	Resources    *registry.ResourceManager
	Issuer       *issuer.Issuer
	Grants       *grants.Dispatcher
	Device       *device.Service
	CIBA         *ciba.Service
	Sessions     *session.Service
	Logout       *logout.Service
	Discovery    *discovery.Builder
	Registration *registration.Service
	Keys         *keys.Manager
	Authorizer   Authorizer
	Metrics      *telemetry.Metrics
}

// Handler serves the OAuth/OIDC endpoints.
type Handler struct {
	cfg      Config
	resolver *routes.Resolver
	deps     Deps
	disabled map[string]bool
}

// New creates a Handler.
func New(cfg Config, resolver *routes.Resolver, deps Deps) *Handler {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, key := range cfg.Disabled {
		disabled[key] = true
	}
	return &Handler{cfg: cfg.withDefaults(), resolver: resolver, deps: deps, disabled: disabled}
}

// Routes mounts every enabled endpoint on a chi router.
func (h *Handler) Routes() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(securityHeaders)

	mounts := []struct {
		key     string
		methods []string
		fn      http.HandlerFunc
	}{
		{routes.KeyAuthorize, []string{http.MethodGet, http.MethodPost}, h.Authorize},
		{routes.KeyToken, []string{http.MethodPost}, h.Token},
		{routes.KeyUserInfo, []string{http.MethodGet, http.MethodPost}, h.UserInfo},
		{routes.KeyIntrospect, []string{http.MethodPost}, h.Introspect},
		{routes.KeyRevoke, []string{http.MethodPost}, h.Revoke},
		{routes.KeyPAR, []string{http.MethodPost}, h.PushedAuthorization},
		{routes.KeyEndSession, []string{http.MethodGet, http.MethodPost}, h.EndSession},
		{routes.KeyCheckSession, []string{http.MethodGet}, h.CheckSession},
		{routes.KeyDeviceAuthorization, []string{http.MethodPost}, h.DeviceAuthorization},
		{routes.KeyBackchannelAuth, []string{http.MethodPost}, h.BackchannelAuthentication},
		{routes.KeyDiscovery, []string{http.MethodGet}, h.Discovery},
		{routes.KeyJWKS, []string{http.MethodGet}, h.JWKS},
	}
	for _, m := range mounts {
		if h.disabled[m.key] {
			continue
		}
		path, err := h.resolver.Path(m.key)
		if err != nil {
			return nil, err
		}
		for _, method := range m.methods {
			r.Method(method, path, m.fn)
		}
	}

	if !h.disabled[routes.KeyRegister] {
		path, err := h.resolver.Path(routes.KeyRegister)
		if err != nil {
			return nil, err
		}
		r.Post(path, h.Register)
		r.Get(path+"/{clientID}", h.RegistrationGet)
		r.Put(path+"/{clientID}", h.RegistrationUpdate)
		r.Delete(path+"/{clientID}", h.RegistrationDelete)
	}

	return r, nil
}

// securityHeaders sets the response headers every endpoint shares.
// Protocol responses carry credentials and must never be cached.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if w.Header().Get("Cache-Control") == "" {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON success body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a protocol error and counts it.
func (h *Handler) writeError(w http.ResponseWriter, endpoint string, oerr *oidcerr.Error) {
	h.deps.Metrics.EndpointError(endpoint, string(oerr.Code))
	oerr.WriteJSON(w)
}

// authenticateClient runs client authentication for the endpoints that
// require it, writing the error response on failure.
func (h *Handler) authenticateClient(w http.ResponseWriter, r *http.Request, endpoint string) (*clientauth.Request, bool) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, endpoint, oidcerr.Invalid("malformed request body"))
		return nil, false
	}
	return clientauth.ParseRequest(r), true
}

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
