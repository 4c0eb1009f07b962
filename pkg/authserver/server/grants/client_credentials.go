// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"strings"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// ClientCredentials issues machine-to-machine access tokens (RFC 6749
// §4.4). No refresh token and no ID token are ever issued here.
type ClientCredentials struct {
	Scopes    *registry.ScopeManager
	Resources *registry.ResourceManager
	Issuer    *issuer.Issuer
}

// GrantType implements Processor.
func (*ClientCredentials) GrantType() string { return oauth.GrantTypeClientCredentials }

// Process implements Processor.
func (p *ClientCredentials) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	if tr.Client.Public() {
		return nil, oidcerr.Validate(oidcerr.CodeUnauthorizedClient, "public clients cannot use client_credentials")
	}

	resources, oerr := p.Resources.Resolve(tr.Params.Resources())
	if oerr != nil {
		return nil, oerr
	}

	requested := tr.Params.Scopes()
	for _, s := range requested {
		if len(tr.Client.Scopes) > 0 && !tr.Client.AllowsScope(s) {
			return nil, oidcerr.Validate(oidcerr.CodeInvalidScope, "").
				WithDescriptionf("scope %q is not registered for this client", s)
		}
	}
	granted, oerr := p.Scopes.Resolve(requested, resources, registry.ResolveOptions{
		Interactive: false,
	})
	if oerr != nil {
		return nil, oerr
	}

	grant := &storage.Grant{
		GrantID:  crypto.RandomToken(16),
		ClientID: tr.Client.ID,
		// The client acts on its own behalf; the subject is the client.
		Subject: tr.Client.ID,
	}
	for _, def := range granted {
		grant.Scopes = append(grant.Scopes, def.Name)
	}
	for _, def := range resources {
		grant.Audience = append(grant.Audience, def.URI)
	}

	access, err := p.Issuer.AccessToken(ctx, grant, tr.Client)
	if err != nil {
		return nil, oidcerr.ServerError(oidcerr.StageProcess)
	}
	return &Response{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn(access),
		Scope:       joinScopes(grant.Scopes),
	}, nil
}

// Password delegates resource owner password credential checks to the
// host (RFC 6749 §4.3). The grant is disabled unless an IdentityProvider
// is wired in; the flow exists for legacy migrations only.
type Password struct {
	IDP    IdentityProvider
	Scopes *registry.ScopeManager
	Issuer *issuer.Issuer
}

// IdentityProvider authenticates resource owner credentials.
type IdentityProvider interface {
	// AuthenticateUser verifies the credentials and returns the local
	// subject identifier. Any error is reported to the client as
	// invalid_grant, without detail.
	AuthenticateUser(ctx context.Context, username, password string) (string, error)
}

// GrantType implements Processor.
func (*Password) GrantType() string { return oauth.GrantTypePassword }

// Process implements Processor.
func (p *Password) Process(ctx context.Context, tr *TokenRequest) (*Response, *oidcerr.Error) {
	if p.IDP == nil {
		return nil, oidcerr.Validate(oidcerr.CodeUnsupportedGrantType, "the password grant is disabled")
	}

	username := tr.Params.Get(request.ParamUsername)
	password := tr.Params.Get(request.ParamPassword)
	if username == "" || password == "" {
		return nil, oidcerr.Invalid("username and password are required")
	}

	subject, err := p.IDP.AuthenticateUser(ctx, username, password)
	if err != nil {
		return nil, oidcerr.Process(oidcerr.CodeInvalidGrant, "resource owner authentication failed")
	}

	granted, oerr := p.Scopes.Resolve(tr.Params.Scopes(), nil, registry.ResolveOptions{
		Interactive:      false,
		ClientCanRefresh: tr.Client.AllowsGrantType(oauth.GrantTypeRefreshToken),
	})
	if oerr != nil {
		return nil, oerr
	}

	grant := &storage.Grant{
		GrantID:  crypto.RandomToken(16),
		ClientID: tr.Client.ID,
		Subject:  subject,
	}
	for _, def := range granted {
		grant.Scopes = append(grant.Scopes, def.Name)
	}

	return issueTokens(ctx, p.Issuer, tr, grant, issuer.IDTokenOptions{})
}

func expiresIn(t *issuer.IssuedToken) int64 {
	return int64(time.Until(t.ExpiresAt).Seconds())
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
