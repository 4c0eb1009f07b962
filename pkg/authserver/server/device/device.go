// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package device runs the RFC 8628 device authorization flow: minting
// device and user codes, resolving user-entered codes, and recording the
// end user's decision. The token endpoint side (polling) lives in the
// grants package.
package device

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// Defaults per RFC 8628 §3.2.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultInterval = 5 * time.Second
)

// Config tunes the device flow.
type Config struct {
	// VerificationURI is the page where the end user enters the user_code.
	VerificationURI string `mapstructure:"verification_uri"`

	// TTL bounds how long an unapproved device grant lives.
	TTL time.Duration `mapstructure:"ttl"`

	// Interval is the minimum seconds between token endpoint polls.
	Interval time.Duration `mapstructure:"interval"`

	// VerifyRate caps user_code verification attempts, separately per
	// code and per client IP. Zero means one attempt per second.
	VerifyRate  rate.Limit `mapstructure:"verify_rate"`
	VerifyBurst int        `mapstructure:"verify_burst"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.VerifyRate <= 0 {
		c.VerifyRate = rate.Every(time.Second)
	}
	if c.VerifyBurst <= 0 {
		c.VerifyBurst = 3
	}
	return c
}

// StartResponse is the device authorization endpoint payload
// (RFC 8628 §3.2).
type StartResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// Service manages device grants between the authorization request and the
// end user's decision.
type Service struct {
	cfg   Config
	store storage.DeviceStore

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a device flow service.
func New(cfg Config, store storage.DeviceStore) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start mints a new device grant for the client.
func (s *Service) Start(ctx context.Context, c *client.Client, scopes, audience []string) (*StartResponse, *oidcerr.Error) {
	rec := &storage.DeviceAuthorization{
		DeviceCode: crypto.RandomToken(32),
		UserCode:   crypto.GenerateUserCode(),
		ClientID:   c.ID,
		Scopes:     scopes,
		Audience:   audience,
		Status:     storage.DeviceStatusPending,
		Interval:   int(s.cfg.Interval.Seconds()),
		ExpiresAt:  time.Now().Add(s.cfg.TTL),
	}
	if err := s.store.PutDeviceAuthorization(ctx, rec); err != nil {
		logger.Errorw("device grant store failed", "client_id", c.ID, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	return &StartResponse{
		DeviceCode:              rec.DeviceCode,
		UserCode:                rec.UserCode,
		VerificationURI:         s.cfg.VerificationURI,
		VerificationURIComplete: s.completeURI(rec.UserCode),
		ExpiresIn:               int64(s.cfg.TTL.Seconds()),
		Interval:                int64(s.cfg.Interval.Seconds()),
	}, nil
}

// completeURI embeds the user_code so the user can follow a link or QR
// code instead of typing (RFC 8628 §3.3.1).
func (s *Service) completeURI(userCode string) string {
	if s.cfg.VerificationURI == "" {
		return ""
	}
	return s.cfg.VerificationURI + "?user_code=" + url.QueryEscape(userCode)
}

// ErrCodeInvalid is the only failure VerifyUserCode reports to callers.
// Unknown, expired, and already-decided codes are indistinguishable, as is
// being rate limited, so the endpoint cannot be used as an oracle.
var ErrCodeInvalid = errors.New("code is invalid or expired")

// VerifyUserCode resolves a user-entered code to its pending device grant.
// Every attempt counts against the per-code and per-IP rate limits before
// the code is looked up, valid or not.
func (s *Service) VerifyUserCode(ctx context.Context, rawCode, remoteIP string) (*storage.DeviceAuthorization, error) {
	code := crypto.NormalizeUserCode(rawCode)

	allowed := s.allow("code:" + code)
	if remoteIP != "" {
		allowed = s.allow("ip:"+remoteIP) && allowed
	}
	if !allowed {
		logger.Warnw("user code verification rate limited", "ip", remoteIP)
		return nil, ErrCodeInvalid
	}

	rec, err := s.store.GetDeviceAuthorizationByUserCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		logger.Errorw("user code lookup failed", "error", err)
		return nil, ErrCodeInvalid
	}
	if time.Now().After(rec.ExpiresAt) || rec.Status != storage.DeviceStatusPending {
		return nil, ErrCodeInvalid
	}
	return rec, nil
}

// Approve records the end user's consent. The next permitted poll at the
// token endpoint redeems the grant.
func (s *Service) Approve(ctx context.Context, userCode string, grant *storage.Grant) error {
	rec, err := s.pending(ctx, userCode)
	if err != nil {
		return err
	}
	rec.Status = storage.DeviceStatusAuthorized
	rec.Grant = grant
	return s.store.UpdateDeviceAuthorization(ctx, rec)
}

// Deny records the end user's refusal.
func (s *Service) Deny(ctx context.Context, userCode string) error {
	rec, err := s.pending(ctx, userCode)
	if err != nil {
		return err
	}
	rec.Status = storage.DeviceStatusDenied
	rec.Grant = nil
	return s.store.UpdateDeviceAuthorization(ctx, rec)
}

func (s *Service) pending(ctx context.Context, userCode string) (*storage.DeviceAuthorization, error) {
	rec, err := s.store.GetDeviceAuthorizationByUserCode(ctx, crypto.NormalizeUserCode(userCode))
	if err != nil {
		return nil, err
	}
	if rec.Status != storage.DeviceStatusPending {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// allow charges one verification attempt against a limiter key. Limiters
// are created on first sight and pruned opportunistically once they have
// refilled, so abandoned keys do not accumulate.
func (s *Service) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(s.cfg.VerifyRate, s.cfg.VerifyBurst)
		s.limiters[key] = lim
	}
	ok = lim.Allow()

	if len(s.limiters) > 10000 {
		for k, l := range s.limiters {
			if l.Tokens() >= float64(s.cfg.VerifyBurst) {
				delete(s.limiters, k)
			}
		}
	}
	return ok
}
