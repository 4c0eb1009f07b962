// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package oidcerr defines the protocol error currency of the server.
// Every fetcher, validator and processor reports failures as an *Error
// carrying an OAuth 2.0 / OIDC registry code, a human-readable
// description, and the pipeline stage that produced it.
package oidcerr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stage identifies the pipeline stage an error originated from.
type Stage string

// Pipeline stages.
const (
	StageFetch    Stage = "fetch"
	StageValidate Stage = "validate"
	StageProcess  Stage = "process"
)

// Code is an OAuth 2.0 / OIDC error registry code.
type Code string

// OAuth 2.0 error codes (RFC 6749, RFC 8707).
const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeInvalidClient           Code = "invalid_client"
	CodeInvalidGrant            Code = "invalid_grant"
	CodeInvalidScope            Code = "invalid_scope"
	CodeInvalidTarget           Code = "invalid_target"
	CodeUnauthorizedClient      Code = "unauthorized_client"
	CodeUnsupportedGrantType    Code = "unsupported_grant_type"
	CodeUnsupportedResponseType Code = "unsupported_response_type"
	CodeAccessDenied            Code = "access_denied"
	CodeServerError             Code = "server_error"
	CodeTemporarilyUnavailable  Code = "temporarily_unavailable"
)

// OIDC error codes.
const (
	CodeLoginRequired            Code = "login_required"
	CodeInteractionRequired      Code = "interaction_required"
	CodeAccountSelectionRequired Code = "account_selection_required"
	CodeConsentRequired          Code = "consent_required"
	CodeRequestNotSupported      Code = "request_not_supported"
	CodeRequestURINotSupported   Code = "request_uri_not_supported"
	CodeRegistrationNotSupported Code = "registration_not_supported"
)

// Polling codes for device and CIBA grants (RFC 8628, CIBA Core).
const (
	CodeAuthorizationPending Code = "authorization_pending"
	CodeSlowDown             Code = "slow_down"
	CodeExpiredToken         Code = "expired_token"
)

// CIBA initiation codes (CIBA Core §13).
const (
	CodeUnknownUserID         Code = "unknown_user_id"
	CodeInvalidBindingMessage Code = "invalid_binding_message"
)

// Dynamic client registration codes (RFC 7591 §3.2.2).
const (
	CodeInvalidRedirectURI    Code = "invalid_redirect_uri"
	CodeInvalidClientMetadata Code = "invalid_client_metadata"
)

// Error is a protocol error. The zero value is not valid; use the
// constructors.
type Error struct {
	Code        Code   `json:"error"`
	Description string `json:"error_description,omitempty"`
	ErrorURI    string `json:"error_uri,omitempty"`
	Stage       Stage  `json:"-"`
}

// New creates an Error for the given stage.
func New(stage Stage, code Code, description string) *Error {
	return &Error{Code: code, Description: description, Stage: stage}
}

// Fetch creates a fetch-stage error.
func Fetch(code Code, description string) *Error {
	return New(StageFetch, code, description)
}

// Validate creates a validation-stage error.
func Validate(code Code, description string) *Error {
	return New(StageValidate, code, description)
}

// Process creates a processing-stage error.
func Process(code Code, description string) *Error {
	return New(StageProcess, code, description)
}

// Invalid is shorthand for a validation-stage invalid_request error.
func Invalid(description string) *Error {
	return Validate(CodeInvalidRequest, description)
}

// InvalidClient is shorthand for an invalid_client error.
func InvalidClient(description string) *Error {
	return Validate(CodeInvalidClient, description)
}

// ServerError wraps an internal failure. The underlying error is logged by
// the caller; the description stays generic so internals never leak.
func ServerError(stage Stage) *Error {
	return New(stage, CodeServerError, "The authorization server encountered an unexpected condition.")
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithDescriptionf returns a copy with a formatted description.
func (e *Error) WithDescriptionf(format string, args ...any) *Error {
	out := *e
	out.Description = fmt.Sprintf(format, args...)
	return &out
}

// Is supports errors.Is matching on the code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// StatusCode maps the error onto an HTTP status for direct (non-redirect)
// responses.
func (e *Error) StatusCode() int {
	switch e.Code {
	case CodeInvalidClient:
		return http.StatusUnauthorized
	case CodeServerError:
		return http.StatusInternalServerError
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// IsRedirectable reports whether an authorization-endpoint error may be
// returned to the client via the redirect URI. Errors about the client
// identity or the redirect URI itself must never redirect.
func (e *Error) IsRedirectable() bool {
	return e.Code != CodeInvalidClient
}

// WriteJSON writes the error as an OAuth JSON error body. A 401 carries a
// WWW-Authenticate challenge per RFC 6749 §5.2.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	status := e.StatusCode()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="token", error="invalid_client"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}
