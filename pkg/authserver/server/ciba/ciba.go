// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package ciba runs client-initiated backchannel authentication (CIBA
// Core, poll delivery mode): accepting authentication requests, tracking
// their lifecycle, and recording the authentication outcome. The token
// endpoint side (polling) lives in the grants package.
package ciba

import (
	"context"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// Defaults per CIBA Core §7.3.
const (
	DefaultExpiry   = 2 * time.Minute
	DefaultInterval = 5 * time.Second

	// maxBindingMessage bounds the message relayed to the authentication
	// device (CIBA Core §7.1 allows rejecting oversized ones).
	maxBindingMessage = 140
)

// Config tunes backchannel authentication.
type Config struct {
	// Expiry bounds how long an unanswered request lives.
	Expiry time.Duration `mapstructure:"expiry"`

	// Interval is the minimum seconds between token endpoint polls.
	Interval time.Duration `mapstructure:"interval"`
}

func (c Config) withDefaults() Config {
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// InitiateResponse is the backchannel authentication endpoint payload
// (CIBA Core §7.3).
type InitiateResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	Interval  int64  `json:"interval"`
}

// Authenticator resolves a CIBA hint to a local subject and starts the
// out-of-band authentication, typically a push to the user's device. The
// host provides it; without one, initiation is rejected.
type Authenticator interface {
	// StartAuthentication resolves the login hint and kicks off the
	// authentication transaction identified by authReqID.
	StartAuthentication(ctx context.Context, authReqID, loginHint, bindingMessage string) error
}

// Service manages backchannel authentication requests between initiation
// and the user's decision on the authentication device.
type Service struct {
	cfg           Config
	store         storage.CIBAStore
	authenticator Authenticator
}

// New creates a backchannel authentication service.
func New(cfg Config, store storage.CIBAStore, authenticator Authenticator) *Service {
	return &Service{cfg: cfg.withDefaults(), store: store, authenticator: authenticator}
}

// Initiate validates and stores a backchannel authentication request.
// Exactly one hint must identify the user (CIBA Core §7.1).
func (s *Service) Initiate(ctx context.Context, c *client.Client, params *request.Request) (*InitiateResponse, *oidcerr.Error) {
	if s.authenticator == nil {
		return nil, oidcerr.Validate(oidcerr.CodeInvalidRequest, "backchannel authentication is not available")
	}

	hint, oerr := singleHint(params)
	if oerr != nil {
		return nil, oerr
	}

	bindingMessage := params.Get(request.ParamBindingMessage)
	if len(bindingMessage) > maxBindingMessage {
		return nil, oidcerr.Validate(oidcerr.CodeInvalidBindingMessage, "binding_message is too long")
	}

	for _, scope := range params.Scopes() {
		if len(c.Scopes) > 0 && !c.AllowsScope(scope) {
			return nil, oidcerr.Validate(oidcerr.CodeInvalidScope, "").
				WithDescriptionf("scope %q is not registered for this client", scope)
		}
	}

	rec := &storage.BackchannelAuthRequest{
		AuthReqID:      crypto.RandomToken(32),
		ClientID:       c.ID,
		Scopes:         params.Scopes(),
		Audience:       params.Resources(),
		LoginHint:      hint,
		BindingMessage: bindingMessage,
		Status:         storage.DeviceStatusPending,
		Interval:       int(s.cfg.Interval.Seconds()),
		ExpiresAt:      time.Now().Add(s.cfg.Expiry),
	}
	if err := s.store.PutBackchannelRequest(ctx, rec); err != nil {
		logger.Errorw("backchannel request store failed", "client_id", c.ID, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	if err := s.authenticator.StartAuthentication(ctx, rec.AuthReqID, hint, bindingMessage); err != nil {
		logger.Errorw("backchannel authentication start failed", "client_id", c.ID, "error", err)
		_ = s.store.DeleteBackchannelRequest(ctx, rec.AuthReqID)
		return nil, oidcerr.Validate(oidcerr.CodeUnknownUserID, "the login hint did not identify a user")
	}

	return &InitiateResponse{
		AuthReqID: rec.AuthReqID,
		ExpiresIn: int64(s.cfg.Expiry.Seconds()),
		Interval:  int64(s.cfg.Interval.Seconds()),
	}, nil
}

// singleHint enforces that exactly one of login_hint, login_hint_token,
// and id_token_hint is present, and returns its value.
func singleHint(params *request.Request) (string, *oidcerr.Error) {
	var hints []string
	for _, name := range []string{
		request.ParamLoginHint,
		request.ParamLoginHintToken,
		request.ParamIDTokenHint,
	} {
		if v := params.Get(name); v != "" {
			hints = append(hints, v)
		}
	}
	switch len(hints) {
	case 1:
		return hints[0], nil
	case 0:
		return "", oidcerr.Validate(oidcerr.CodeInvalidRequest,
			"one of login_hint, login_hint_token, or id_token_hint is required")
	default:
		return "", oidcerr.Validate(oidcerr.CodeInvalidRequest,
			"only one of login_hint, login_hint_token, and id_token_hint may be used")
	}
}

// Complete records a successful authentication. The next permitted poll
// at the token endpoint redeems the request.
func (s *Service) Complete(ctx context.Context, authReqID string, grant *storage.Grant) error {
	rec, err := s.pending(ctx, authReqID)
	if err != nil {
		return err
	}
	rec.Status = storage.DeviceStatusAuthorized
	rec.Grant = grant
	return s.store.UpdateBackchannelRequest(ctx, rec)
}

// Deny records that the user refused or failed authentication.
func (s *Service) Deny(ctx context.Context, authReqID string) error {
	rec, err := s.pending(ctx, authReqID)
	if err != nil {
		return err
	}
	rec.Status = storage.DeviceStatusDenied
	rec.Grant = nil
	return s.store.UpdateBackchannelRequest(ctx, rec)
}

func (s *Service) pending(ctx context.Context, authReqID string) (*storage.BackchannelAuthRequest, error) {
	rec, err := s.store.GetBackchannelRequest(ctx, authReqID)
	if err != nil {
		return nil, err
	}
	if rec.Status != storage.DeviceStatusPending {
		return nil, storage.ErrNotFound
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}
