// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the persistence contracts for the authorization
// server: registered clients, one-time authorization codes, pushed and
// backchannel authorization requests, device grants, end-user sessions, a
// token registry for revocation, and an assertion replay cache.
//
// Two implementations are provided: MemoryStorage for single-instance
// deployments and testing, and RedisStorage for horizontal scaling.
package storage

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
)

// Sentinel errors returned by all storage implementations.
var (
	// ErrNotFound indicates the requested record does not exist or has
	// expired.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create collided with an existing record.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCodeConsumed indicates an authorization code was already redeemed.
	// ConsumeCode returns it together with the original record so the
	// caller can revoke every token issued from the first redemption.
	ErrCodeConsumed = errors.New("authorization code already consumed")
)

// Default record lifetimes, used when a record carries no explicit expiry.
const (
	// DefaultCodeTTL bounds authorization code validity (RFC 6749 §4.1.2
	// recommends a maximum of ten minutes).
	DefaultCodeTTL = 10 * time.Minute

	// DefaultConsumedCodeTTL is how long consumed codes are remembered for
	// replay detection.
	DefaultConsumedCodeTTL = 30 * time.Minute

	// DefaultPushedRequestTTL bounds PAR request_uri validity (RFC 9126).
	DefaultPushedRequestTTL = 90 * time.Second

	// DefaultDeviceCodeTTL bounds device and CIBA authorization validity.
	DefaultDeviceCodeTTL = 10 * time.Minute

	// DefaultSessionTTL bounds end-user session lifetime.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultCleanupInterval is how often the in-memory backend sweeps
	// expired entries.
	DefaultCleanupInterval = 5 * time.Minute
)

// Grant is the authorization context tokens are minted from. Every token
// issued for the same approval carries the same GrantID, which is what
// revocation and replay handling operate on.
type Grant struct {
	// GrantID groups all tokens descending from one approval.
	GrantID string `json:"grant_id"`

	ClientID string `json:"client_id"`
	Subject  string `json:"subject"`

	Scopes   []string `json:"scopes,omitempty"`
	Audience []string `json:"audience,omitempty"`

	// Claims carries the consented claim values for ID tokens and the
	// UserInfo response.
	Claims map[string]any `json:"claims,omitempty"`

	Nonce    string    `json:"nonce,omitempty"`
	ACR      string    `json:"acr,omitempty"`
	AMR      []string  `json:"amr,omitempty"`
	AuthTime time.Time `json:"auth_time,omitzero"`

	// SessionID links the grant to the end-user session for logout.
	SessionID string `json:"session_id,omitempty"`

	// CertThumbprint is the base64url SHA-256 thumbprint of the client
	// certificate when tokens are certificate-bound (RFC 8705).
	CertThumbprint string `json:"cert_thumbprint,omitempty"`
}

// CodeRecord is the state bound to an authorization code between issuance
// and redemption at the token endpoint.
type CodeRecord struct {
	Grant Grant `json:"grant"`

	// RedirectURI is the value the code was issued for; the token request
	// must present the same one.
	RedirectURI string `json:"redirect_uri"`

	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
}

// PushedRequest is a pushed authorization request (RFC 9126) awaiting use
// at the authorization endpoint.
type PushedRequest struct {
	ClientID  string     `json:"client_id"`
	Params    url.Values `json:"params"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// DeviceStatus is the lifecycle state of a device or backchannel grant.
type DeviceStatus string

// Device and backchannel grant states.
const (
	DeviceStatusPending    DeviceStatus = "pending"
	DeviceStatusAuthorized DeviceStatus = "authorized"
	DeviceStatusDenied     DeviceStatus = "denied"
)

// DeviceAuthorization is an RFC 8628 device grant in flight. It is
// addressable by both the device_code (polled by the client) and the
// user_code (entered by the end user).
type DeviceAuthorization struct {
	DeviceCode string `json:"device_code"`
	UserCode   string `json:"user_code"`
	ClientID   string `json:"client_id"`

	Scopes   []string `json:"scopes,omitempty"`
	Audience []string `json:"audience,omitempty"`

	Status DeviceStatus `json:"status"`

	// Interval is the minimum seconds between polls; NextPollAt enforces
	// it and is pushed back on slow_down.
	Interval   int       `json:"interval"`
	NextPollAt time.Time `json:"next_poll_at,omitzero"`

	// Grant is set when the end user approves.
	Grant *Grant `json:"grant,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
}

// BackchannelAuthRequest is a CIBA authentication request in flight,
// addressed by auth_req_id.
type BackchannelAuthRequest struct {
	AuthReqID string `json:"auth_req_id"`
	ClientID  string `json:"client_id"`

	Scopes   []string `json:"scopes,omitempty"`
	Audience []string `json:"audience,omitempty"`

	LoginHint      string `json:"login_hint,omitempty"`
	BindingMessage string `json:"binding_message,omitempty"`

	Status     DeviceStatus `json:"status"`
	Interval   int          `json:"interval"`
	NextPollAt time.Time    `json:"next_poll_at,omitzero"`

	Grant *Grant `json:"grant,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
}

// Session is an authenticated end-user session at the provider. ClientIDs
// records every relying party that obtained tokens under the session, which
// drives front- and back-channel logout notification.
type Session struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`

	ClientIDs []string `json:"client_ids,omitempty"`

	ACR      string    `json:"acr,omitempty"`
	AMR      []string  `json:"amr,omitempty"`
	AuthTime time.Time `json:"auth_time,omitzero"`

	CreatedAt time.Time `json:"created_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStatus is the lifecycle state of an issued token, tracked by jti.
type TokenStatus string

// Token states. StatusUnknown is returned for a jti the registry has never
// seen (or whose record expired with the token).
const (
	StatusUnknown TokenStatus = ""
	StatusIssued  TokenStatus = "issued"
	StatusUsed    TokenStatus = "used"
	StatusRevoked TokenStatus = "revoked"
)

// TokenRecord is the registry entry for an issued token.
type TokenRecord struct {
	Status TokenStatus `json:"status"`

	// GrantID links the token to its grant for family-wide revocation.
	GrantID string `json:"grant_id,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
}

// ClientStore persists registered clients.
type ClientStore interface {
	// CreateClient stores a new client. Returns ErrAlreadyExists if the
	// client_id is taken.
	CreateClient(ctx context.Context, c *client.Client) error

	// GetClient loads a client by ID. Returns ErrNotFound if absent.
	GetClient(ctx context.Context, id string) (*client.Client, error)

	// UpdateClient replaces an existing client. Returns ErrNotFound if the
	// client does not exist.
	UpdateClient(ctx context.Context, c *client.Client) error

	// DeleteClient removes a client. Returns ErrNotFound if absent.
	DeleteClient(ctx context.Context, id string) error

	// ListClients enumerates all registered clients.
	ListClients(ctx context.Context) ([]*client.Client, error)
}

// CodeStore persists one-time authorization codes.
type CodeStore interface {
	// PutCode stores a code record until its ExpiresAt.
	PutCode(ctx context.Context, code string, rec *CodeRecord) error

	// ConsumeCode atomically retrieves and invalidates a code. Exactly one
	// caller wins; later callers get ErrCodeConsumed together with the
	// record so they can revoke the grant, or ErrNotFound once the
	// consumed marker has aged out.
	ConsumeCode(ctx context.Context, code string) (*CodeRecord, error)
}

// PARStore persists pushed authorization requests (RFC 9126).
type PARStore interface {
	// PutPushedRequest stores a pushed request under its request_uri
	// reference until its ExpiresAt.
	PutPushedRequest(ctx context.Context, requestURI string, rec *PushedRequest) error

	// ClaimPushedRequest atomically retrieves and removes a pushed
	// request; request_uri values are single-use.
	ClaimPushedRequest(ctx context.Context, requestURI string) (*PushedRequest, error)
}

// DeviceStore persists device grants with a user_code index.
type DeviceStore interface {
	PutDeviceAuthorization(ctx context.Context, rec *DeviceAuthorization) error
	GetDeviceAuthorization(ctx context.Context, deviceCode string) (*DeviceAuthorization, error)
	GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error)

	// UpdateDeviceAuthorization replaces an existing record, keyed by its
	// DeviceCode. Returns ErrNotFound if the grant expired.
	UpdateDeviceAuthorization(ctx context.Context, rec *DeviceAuthorization) error

	// DeleteDeviceAuthorization removes the grant and its user_code index.
	DeleteDeviceAuthorization(ctx context.Context, deviceCode string) error
}

// CIBAStore persists backchannel authentication requests.
type CIBAStore interface {
	PutBackchannelRequest(ctx context.Context, rec *BackchannelAuthRequest) error
	GetBackchannelRequest(ctx context.Context, authReqID string) (*BackchannelAuthRequest, error)
	UpdateBackchannelRequest(ctx context.Context, rec *BackchannelAuthRequest) error
	DeleteBackchannelRequest(ctx context.Context, authReqID string) error
}

// SessionStore persists end-user sessions.
type SessionStore interface {
	PutSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, sess *Session) error
	DeleteSession(ctx context.Context, id string) error
}

// TokenRegistry tracks issued tokens by jti for introspection, revocation,
// and refresh rotation. Records expire with the token they describe.
type TokenRegistry interface {
	// RegisterToken records a freshly issued token.
	RegisterToken(ctx context.Context, jti string, rec *TokenRecord) error

	// TokenStatus reports the state of a jti. StatusUnknown with a nil
	// error means the registry has no record.
	TokenStatus(ctx context.Context, jti string) (TokenStatus, error)

	// SetTokenStatus transitions a token's state. Returns ErrNotFound if
	// the record expired.
	SetTokenStatus(ctx context.Context, jti string, status TokenStatus) error

	// RevokeGrant marks every registered token of a grant as revoked.
	RevokeGrant(ctx context.Context, grantID string) error
}

// ReplayCache detects reuse of client assertion and JWT bearer jti values
// (RFC 7523 §3).
type ReplayCache interface {
	// ObserveAssertion records a jti until exp. It reports true on first
	// sighting and false on replay.
	ObserveAssertion(ctx context.Context, jti string, exp time.Time) (bool, error)
}

// Storage is the full persistence surface the server is assembled against.
type Storage interface {
	ClientStore
	CodeStore
	PARStore
	DeviceStore
	CIBAStore
	SessionStore
	TokenRegistry
	ReplayCache

	// Health reports backend availability.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
