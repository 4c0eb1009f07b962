// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package request defines the canonical authorization request record the
// fetch and validation stages operate on. Parameters from the query
// string, the form body, pushed authorization requests and request
// objects all land in one Request, so downstream code never cares where a
// value came from.
package request

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Parameter names used across the authorization and token endpoints.
const (
	ParamClientID            = "client_id"
	ParamRedirectURI         = "redirect_uri"
	ParamResponseType        = "response_type"
	ParamResponseMode        = "response_mode"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamNonce               = "nonce"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamPrompt              = "prompt"
	ParamMaxAge              = "max_age"
	ParamACRValues           = "acr_values"
	ParamLoginHint           = "login_hint"
	ParamLoginHintToken      = "login_hint_token"
	ParamIDTokenHint         = "id_token_hint"
	ParamPostLogoutRedirect  = "post_logout_redirect_uri"
	ParamBindingMessage      = "binding_message"
	ParamRequest             = "request"
	ParamRequestURI          = "request_uri"
	ParamResource            = "resource"
	ParamCode                = "code"
	ParamCodeVerifier        = "code_verifier"
	ParamGrantType           = "grant_type"
	ParamRefreshToken        = "refresh_token"
	ParamDeviceCode          = "device_code"
	ParamAuthReqID           = "auth_req_id"
	ParamAssertion           = "assertion"
	ParamUsername            = "username"
	ParamPassword            = "password"
	ParamAudience            = "audience"
)

// Request is the merged parameter set of one protocol request.
type Request struct {
	params url.Values
}

// New wraps an existing parameter set.
func New(params url.Values) *Request {
	if params == nil {
		params = url.Values{}
	}
	return &Request{params: params}
}

// FromHTTP merges query and form parameters. For POST the form wins on
// conflicts, matching net/http's PostFormValue precedence.
func FromHTTP(r *http.Request) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	merged := url.Values{}
	for k, vs := range r.URL.Query() {
		merged[k] = append([]string(nil), vs...)
	}
	for k, vs := range r.PostForm {
		merged[k] = append([]string(nil), vs...)
	}
	return &Request{params: merged}, nil
}

// Get returns the first value for a parameter.
func (r *Request) Get(key string) string { return r.params.Get(key) }

// Has reports whether a parameter is present, even with an empty value.
func (r *Request) Has(key string) bool { return r.params.Has(key) }

// Set replaces a parameter.
func (r *Request) Set(key, value string) { r.params.Set(key, value) }

// Del removes a parameter.
func (r *Request) Del(key string) { r.params.Del(key) }

// List returns all values of a repeatable parameter, such as resource.
func (r *Request) List(key string) []string { return r.params[key] }

// Values returns a copy of the underlying parameter set, for storage.
func (r *Request) Values() url.Values {
	out := url.Values{}
	for k, vs := range r.params {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Replace swaps the whole parameter set, used when a pushed request is
// claimed.
func (r *Request) Replace(params url.Values) {
	r.params = params
}

// Merge overlays the given parameters on top of the current set. Used for
// request objects, whose claims take precedence over the bare query
// parameters (OIDC Core §6.1).
func (r *Request) Merge(params url.Values) {
	for k, vs := range params {
		r.params[k] = append([]string(nil), vs...)
	}
}

// ClientID returns the client_id parameter.
func (r *Request) ClientID() string { return r.Get(ParamClientID) }

// RedirectURI returns the redirect_uri parameter.
func (r *Request) RedirectURI() string { return r.Get(ParamRedirectURI) }

// ResponseType returns the response_type parameter.
func (r *Request) ResponseType() string { return r.Get(ParamResponseType) }

// ResponseMode returns the response_mode parameter.
func (r *Request) ResponseMode() string { return r.Get(ParamResponseMode) }

// State returns the state parameter.
func (r *Request) State() string { return r.Get(ParamState) }

// Nonce returns the nonce parameter.
func (r *Request) Nonce() string { return r.Get(ParamNonce) }

// Scopes returns the space-separated scope parameter as a slice.
func (r *Request) Scopes() []string {
	return strings.Fields(r.Get(ParamScope))
}

// Prompts returns the space-separated prompt parameter as a slice.
func (r *Request) Prompts() []string {
	return strings.Fields(r.Get(ParamPrompt))
}

// HasPrompt reports whether a specific prompt value was requested.
func (r *Request) HasPrompt(p string) bool {
	for _, v := range r.Prompts() {
		if v == p {
			return true
		}
	}
	return false
}

// Resources returns the repeatable resource parameters (RFC 8707).
func (r *Request) Resources() []string {
	return r.List(ParamResource)
}

// MaxAge returns the parsed max_age parameter. ok is false when the
// parameter is absent or not a non-negative integer.
func (r *Request) MaxAge() (time.Duration, bool) {
	raw := r.Get(ParamMaxAge)
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
