// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package logout implements RP-initiated logout (OIDC RP-Initiated
// Logout 1.0) with front-channel and back-channel notification of the
// session's relying parties.
package logout

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/networking"
	"github.com/kestrelauth/kestrel/pkg/telemetry"
)

// Delivery defaults for back-channel logout fan-out.
const (
	DefaultParallelism   = 4
	DefaultTargetTimeout = 5 * time.Second
	deliveryAttempts     = 3 // initial try plus two retries
)

// Config tunes logout handling.
type Config struct {
	// Issuer is this server's issuer identifier, sent as iss on
	// front-channel logout URIs.
	Issuer string

	// Parallelism bounds concurrent back-channel deliveries.
	Parallelism int `mapstructure:"parallelism"`

	// TargetTimeout bounds each back-channel POST, per attempt.
	TargetTimeout time.Duration `mapstructure:"target_timeout"`

	// Metrics counts delivery outcomes; nil disables collection.
	Metrics *telemetry.Metrics
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.TargetTimeout <= 0 {
		c.TargetTimeout = DefaultTargetTimeout
	}
	return c
}

// Service validates end-session requests and notifies relying parties.
type Service struct {
	cfg     Config
	clients storage.ClientStore
	issuer  *issuer.Issuer
	http    networking.HTTPClient
}

// New creates a logout service.
func New(cfg Config, clients storage.ClientStore, iss *issuer.Issuer, httpClient networking.HTTPClient) *Service {
	return &Service{cfg: cfg.withDefaults(), clients: clients, issuer: iss, http: httpClient}
}

// Request is a validated end-session request.
type Request struct {
	// Client is set when id_token_hint or client_id identified one.
	Client *client.Client

	// Subject and SessionID come from the id_token_hint.
	Subject   string
	SessionID string

	// PostLogoutRedirectURI is non-empty only when validated against the
	// client's allowlist. State is echoed onto it.
	PostLogoutRedirectURI string
	State                 string
}

// Validate checks an end-session request (RP-Initiated Logout §2). The
// id_token_hint may be expired but must verify; a post_logout_redirect_uri
// requires an identified client and allowlist membership.
func (s *Service) Validate(ctx context.Context, params *request.Request) (*Request, *oidcerr.Error) {
	out := &Request{State: params.State()}

	if hint := params.Get(request.ParamIDTokenHint); hint != "" {
		token, err := s.issuer.VerifyIDTokenHint(hint)
		if err != nil {
			logger.Debugw("id_token_hint verification failed", "error", err)
			return nil, oidcerr.Invalid("id_token_hint is invalid")
		}
		out.Subject = token.Claims.Subject()
		out.SessionID = token.Claims.SessionID()

		c, oerr := s.hintClient(ctx, token.Claims.Audience())
		if oerr != nil {
			return nil, oerr
		}
		out.Client = c
	}

	if clientID := params.ClientID(); clientID != "" {
		if out.Client != nil && out.Client.ID != clientID {
			return nil, oidcerr.Invalid("client_id does not match the id_token_hint audience")
		}
		if out.Client == nil {
			c, err := s.clients.GetClient(ctx, clientID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, oidcerr.Invalid("client_id is unknown")
			}
			if err != nil {
				logger.Errorw("client lookup failed", "client_id", clientID, "error", err)
				return nil, oidcerr.ServerError(oidcerr.StageValidate)
			}
			out.Client = c
		}
	}

	if uri := params.Get(request.ParamPostLogoutRedirect); uri != "" {
		if out.Client == nil {
			return nil, oidcerr.Invalid("post_logout_redirect_uri requires id_token_hint or client_id")
		}
		if !out.Client.AllowsPostLogoutRedirectURI(uri) {
			return nil, oidcerr.Invalid("post_logout_redirect_uri is not registered")
		}
		out.PostLogoutRedirectURI = uri
	}

	return out, nil
}

// hintClient resolves the id_token_hint audience to a registered client.
// Multi-audience hints are accepted as long as one audience resolves.
func (s *Service) hintClient(ctx context.Context, audiences []string) (*client.Client, *oidcerr.Error) {
	for _, aud := range audiences {
		c, err := s.clients.GetClient(ctx, aud)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("client lookup failed", "client_id", aud, "error", err)
			return nil, oidcerr.ServerError(oidcerr.StageValidate)
		}
	}
	return nil, oidcerr.Invalid("id_token_hint audience is not a registered client")
}

// RedirectURI assembles the post-logout redirect with the echoed state.
func (r *Request) RedirectURI() string {
	if r.PostLogoutRedirectURI == "" {
		return ""
	}
	if r.State == "" {
		return r.PostLogoutRedirectURI
	}
	sep := "?"
	if strings.Contains(r.PostLogoutRedirectURI, "?") {
		sep = "&"
	}
	return r.PostLogoutRedirectURI + sep + "state=" + url.QueryEscape(r.State)
}

// FrontChannelURIs enumerates the front-channel logout URIs of the
// session's relying parties, with iss and sid appended (Front-Channel
// Logout §2). The host renders them as hidden iframes.
func (s *Service) FrontChannelURIs(ctx context.Context, sess *storage.Session) []string {
	var out []string
	for _, c := range s.participants(ctx, sess) {
		if c.FrontchannelLogoutURI == "" {
			continue
		}
		u, err := url.Parse(c.FrontchannelLogoutURI)
		if err != nil {
			logger.Warnw("unparseable frontchannel_logout_uri", "client_id", c.ID)
			continue
		}
		q := u.Query()
		q.Set("iss", s.cfg.Issuer)
		q.Set("sid", sess.ID)
		u.RawQuery = q.Encode()
		out = append(out, u.String())
	}
	return out
}

// NotifyBackchannel POSTs a signed logout token to every participating
// relying party that registered a backchannel_logout_uri (Back-Channel
// Logout §2.5). Deliveries run in parallel with a bounded degree; each
// target gets its own timeout and two retries. Failures are logged and do
// not fail the logout.
func (s *Service) NotifyBackchannel(ctx context.Context, sess *storage.Session) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for _, c := range s.participants(ctx, sess) {
		if c.BackchannelLogoutURI == "" {
			continue
		}
		g.Go(func() error {
			if err := s.deliver(ctx, c, sess); err != nil {
				logger.Warnw("backchannel logout delivery failed",
					"client_id", c.ID, "uri", c.BackchannelLogoutURI, "error", err)
				s.cfg.Metrics.BackchannelDelivery("failed")
				return nil
			}
			s.cfg.Metrics.BackchannelDelivery("delivered")
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) deliver(ctx context.Context, c *client.Client, sess *storage.Session) error {
	token, err := s.issuer.LogoutToken(c, sess.Subject, sess.ID)
	if err != nil {
		return err
	}
	form := url.Values{"logout_token": {token}}.Encode()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.TargetTimeout)
		defer cancel()

		_, err := networking.FetchBody(attemptCtx, s.http, c.BackchannelLogoutURI,
			networking.WithMethod(http.MethodPost),
			networking.WithHeader("Content-Type", networking.ContentTypeFormURLEncoded),
			networking.WithBody(strings.NewReader(form)),
		)
		return nil, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(deliveryAttempts),
	)
	return err
}

// participants loads the session's relying parties, skipping any that
// have been deleted since the session was established.
func (s *Service) participants(ctx context.Context, sess *storage.Session) []*client.Client {
	out := make([]*client.Client, 0, len(sess.ClientIDs))
	for _, id := range sess.ClientIDs {
		c, err := s.clients.GetClient(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Errorw("client lookup failed", "client_id", id, "error", err)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}
