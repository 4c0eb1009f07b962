// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// slowDownPenalty is added to the poll interval after a slow_down
// response (RFC 8628 §3.5).
const slowDownPenalty = 5 * time.Second

// DeviceCode completes RFC 8628 device flows at the token endpoint. The
// device polls here while the user approves on a second screen.
type DeviceCode struct {
	Devices storage.DeviceStore
	Issuer  *issuer.Issuer
}

// GrantType implements Processor.
func (*DeviceCode) GrantType() string { return oauth.GrantTypeDeviceCode }

// Process implements Processor.
func (p *DeviceCode) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	deviceCode := tr.Params.Get(request.ParamDeviceCode)
	if deviceCode == "" {
		return nil, oidcerr.Invalid("device_code is required")
	}

	rec, err := p.Devices.GetDeviceAuthorization(ctx, deviceCode)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, oidcerr.Process(oidcerr.CodeExpiredToken, "device_code is unknown or expired")
	}
	if err != nil {
		logger.Errorw("device grant lookup failed", "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	if rec.ClientID != tr.Client.ID {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "device_code was issued to a different client")
	}

	now := time.Now()
	if now.After(rec.ExpiresAt) {
		_ = p.Devices.DeleteDeviceAuthorization(ctx, deviceCode)
		return nil, oidcerr.Process(oidcerr.CodeExpiredToken, "device_code has expired")
	}

	switch rec.Status {
	case storage.DeviceStatusDenied:
		_ = p.Devices.DeleteDeviceAuthorization(ctx, deviceCode)
		return nil, oidcerr.Process(oidcerr.CodeAccessDenied, "the user denied the request")

	case storage.DeviceStatusPending:
		return nil, p.pollPending(ctx, rec, now)

	case storage.DeviceStatusAuthorized:
		if rec.Grant == nil {
			logger.Errorw("authorized device grant has no grant record", "client_id", rec.ClientID)
			return nil, oidcerr.ServerError(oidcerr.StageProcess)
		}
		_ = p.Devices.DeleteDeviceAuthorization(ctx, deviceCode)
		return issueTokens(ctx, p.Issuer, tr, rec.Grant, issuer.IDTokenOptions{})

	default:
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
}

// pollPending enforces the poll interval: a premature poll earns
// slow_down and pushes the next permitted poll further out.
func (p *DeviceCode) pollPending(ctx context.Context, rec *storage.DeviceAuthorization, now time.Time) *oidcerr.Error {
	interval := time.Duration(rec.Interval) * time.Second

	if now.Before(rec.NextPollAt) {
		rec.NextPollAt = now.Add(interval + slowDownPenalty)
		if err := p.Devices.UpdateDeviceAuthorization(ctx, rec); err != nil {
			logger.Warnw("device poll bookkeeping failed", "error", err)
		}
		return oidcerr.Process(oidcerr.CodeSlowDown, "polling too frequently")
	}

	rec.NextPollAt = now.Add(interval)
	if err := p.Devices.UpdateDeviceAuthorization(ctx, rec); err != nil {
		logger.Warnw("device poll bookkeeping failed", "error", err)
	}
	return oidcerr.Process(oidcerr.CodeAuthorizationPending, "authorization is pending")
}

// CIBA completes backchannel authentication flows at the token endpoint
// (CIBA Core, poll delivery mode).
type CIBA struct {
	Requests storage.CIBAStore
	Issuer   *issuer.Issuer
}

// GrantType implements Processor.
func (*CIBA) GrantType() string { return oauth.GrantTypeCIBA }

// Process implements Processor.
func (p *CIBA) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	authReqID := tr.Params.Get(request.ParamAuthReqID)
	if authReqID == "" {
		return nil, oidcerr.Invalid("auth_req_id is required")
	}

	rec, err := p.Requests.GetBackchannelRequest(ctx, authReqID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, oidcerr.Process(oidcerr.CodeExpiredToken, "auth_req_id is unknown or expired")
	}
	if err != nil {
		logger.Errorw("backchannel request lookup failed", "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	if rec.ClientID != tr.Client.ID {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "auth_req_id was issued to a different client")
	}

	now := time.Now()
	if now.After(rec.ExpiresAt) {
		_ = p.Requests.DeleteBackchannelRequest(ctx, authReqID)
		return nil, oidcerr.Process(oidcerr.CodeExpiredToken, "auth_req_id has expired")
	}

	switch rec.Status {
	case storage.DeviceStatusDenied:
		_ = p.Requests.DeleteBackchannelRequest(ctx, authReqID)
		return nil, oidcerr.Process(oidcerr.CodeAccessDenied, "the user denied the request")

	case storage.DeviceStatusPending:
		interval := time.Duration(rec.Interval) * time.Second
		if now.Before(rec.NextPollAt) {
			rec.NextPollAt = now.Add(interval + slowDownPenalty)
			if err := p.Requests.UpdateBackchannelRequest(ctx, rec); err != nil {
				logger.Warnw("backchannel poll bookkeeping failed", "error", err)
			}
			return nil, oidcerr.Process(oidcerr.CodeSlowDown, "polling too frequently")
		}
		rec.NextPollAt = now.Add(interval)
		if err := p.Requests.UpdateBackchannelRequest(ctx, rec); err != nil {
			logger.Warnw("backchannel poll bookkeeping failed", "error", err)
		}
		return nil, oidcerr.Process(oidcerr.CodeAuthorizationPending, "authorization is pending")

	case storage.DeviceStatusAuthorized:
		if rec.Grant == nil {
			logger.Errorw("authorized backchannel request has no grant record", "client_id", rec.ClientID)
			return nil, oidcerr.ServerError(oidcerr.StageProcess)
		}
		_ = p.Requests.DeleteBackchannelRequest(ctx, authReqID)
		return issueTokens(ctx, p.Issuer, tr, rec.Grant, issuer.IDTokenOptions{})

	default:
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
}
