// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package grants implements the token endpoint's grant processors. Each
// processor handles one grant_type; the Dispatcher routes an
// authenticated token request to the right one and enforces the client's
// registered grant types.
package grants

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// TokenRequest is one authenticated token endpoint request.
type TokenRequest struct {
	Params *request.Request
	Client *client.Client

	// CertThumbprint is the x5t#S256 of the presented client certificate,
	// for certificate-bound token issuance.
	CertThumbprint string
}

// Response is the token endpoint success payload (RFC 6749 §5.1).
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Processor handles one grant type.
type Processor interface {
	GrantType() string
	Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error)
}

// Dispatcher routes token requests by grant_type.
type Dispatcher struct {
	processors map[string]Processor
}

// NewDispatcher registers the given processors.
func NewDispatcher(processors ...Processor) *Dispatcher {
	d := &Dispatcher{processors: make(map[string]Processor, len(processors))}
	for _, p := range processors {
		d.processors[p.GrantType()] = p
	}
	return d
}

// GrantTypes lists the registered grant types, for discovery.
func (d *Dispatcher) GrantTypes() []string {
	out := make([]string, 0, len(d.processors))
	for gt := range d.processors {
		out = append(out, gt)
	}
	slices.Sort(out)
	return out
}

// Process dispatches one token request.
func (d *Dispatcher) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	gt := tr.Params.Get(request.ParamGrantType)
	if gt == "" {
		return nil, oidcerr.Invalid("grant_type is required")
	}

	p, ok := d.processors[gt]
	if !ok {
		return nil, oidcerr.Validate(oidcerr.CodeUnsupportedGrantType, "").
			WithDescriptionf("grant_type %q is not supported", gt)
	}
	if !tr.Client.AllowsGrantType(gt) {
		return nil, oidcerr.Validate(oidcerr.CodeUnauthorizedClient, "").
			WithDescriptionf("client is not authorized for grant_type %q", gt)
	}

	resp, oerr := p.Process(ctx, tr)
	if oerr != nil {
		logger.Debugw("grant processing failed",
			"grant_type", gt, "client_id", tr.Client.ID, "error", oerr.Code)
		return nil, oerr
	}
	return resp, nil
}

// issueTokens mints the token set for a grant: an access token, a refresh
// token when the grant carries offline_access and the client can refresh,
// and an ID token when the grant carries openid.
func issueTokens(ctx context.Context, iss *issuer.Issuer, tr *TokenRequest, grant *storage.Grant, idOpts issuer.IDTokenOptions) (*Response, *oidcerr.Error) {
	if tr.Client.CertificateBoundTokens && grant.CertThumbprint == "" {
		grant.CertThumbprint = tr.CertThumbprint
	}

	access, err := iss.AccessToken(ctx, grant, tr.Client)
	if err != nil {
		logger.Errorw("access token issuance failed", "client_id", tr.Client.ID, "error", err)
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}

	resp := &Response{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       strings.Join(grant.Scopes, " "),
	}

	if hasScope(grant.Scopes, registry.OfflineAccessScope) &&
		tr.Client.AllowsGrantType(oauth.GrantTypeRefreshToken) {
		refresh, err := iss.RefreshToken(ctx, grant, tr.Client)
		if err != nil {
			logger.Errorw("refresh token issuance failed", "client_id", tr.Client.ID, "error", err)
			return nil, oidcerr.ServerError(oidcerr.StageProcess)
		}
		resp.RefreshToken = refresh.Token
	}

	if hasScope(grant.Scopes, "openid") && grant.Subject != "" {
		idOpts.AccessToken = access.Token
		idToken, err := iss.IDToken(ctx, grant, tr.Client, idOpts)
		if err != nil {
			logger.Errorw("ID token issuance failed", "client_id", tr.Client.ID, "error", err)
			return nil, oidcerr.ServerError(oidcerr.StageProcess)
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

func hasScope(scopes []string, name string) bool {
	return slices.Contains(scopes, name)
}
