// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package registry manages the scopes and resource indicators the server
// is willing to grant. Scope resolution happens at authorization time;
// resource resolution implements RFC 8707 resource indicators.
package registry

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
)

// OfflineAccessScope requests refresh token issuance (OIDC Core §11).
const OfflineAccessScope = "offline_access"

// ScopeDefinition describes a grantable scope.
type ScopeDefinition struct {
	Name string

	// Claims lists the claim names released into ID tokens and UserInfo
	// when this scope is granted.
	Claims []string

	// ResourceBound scopes are only grantable against a requested resource
	// that registers them.
	ResourceBound bool

	Description string
}

// ResourceDefinition describes a protected resource tokens may be bound to.
type ResourceDefinition struct {
	// URI is the resource indicator; it doubles as the token audience.
	URI string

	// Scopes lists the scope names meaningful at this resource.
	Scopes []string

	// TokenFormat optionally pins the access token format for this
	// resource ("jwt" or "opaque"); empty means the server default.
	TokenFormat string
}

// ValidateResourceURI checks a resource indicator against RFC 8707 §2:
// absolute, hosted, fragment-free, and http(s)-schemed.
func ValidateResourceURI(resource string) *oidcerr.Error {
	parsed, err := url.Parse(resource)
	if err != nil {
		return oidcerr.Validate(oidcerr.CodeInvalidTarget, "resource parameter is not a valid URI")
	}
	if !parsed.IsAbs() {
		return oidcerr.Validate(oidcerr.CodeInvalidTarget, "resource must be an absolute URI")
	}
	if parsed.Host == "" {
		return oidcerr.Validate(oidcerr.CodeInvalidTarget, "resource must include a host")
	}
	if parsed.Fragment != "" {
		return oidcerr.Validate(oidcerr.CodeInvalidTarget, "resource must not contain a fragment")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return oidcerr.Validate(oidcerr.CodeInvalidTarget, "resource must use http or https scheme")
	}
	return nil
}

// ResourceManager resolves requested resource indicators against the
// registered set.
type ResourceManager struct {
	resources map[string]*ResourceDefinition
}

// NewResourceManager registers the server's resources. Registration fails
// on a malformed or duplicate URI.
func NewResourceManager(defs ...*ResourceDefinition) (*ResourceManager, error) {
	m := &ResourceManager{resources: make(map[string]*ResourceDefinition, len(defs))}
	for _, def := range defs {
		if err := ValidateResourceURI(def.URI); err != nil {
			return nil, fmt.Errorf("resource %q: %s", def.URI, err.Description)
		}
		if _, dup := m.resources[def.URI]; dup {
			return nil, fmt.Errorf("resource %q registered twice", def.URI)
		}
		m.resources[def.URI] = def
	}
	return m, nil
}

// Resolve validates and resolves requested resource indicators. Matching
// is exact string comparison; an unregistered resource yields
// invalid_target. An empty allowlist rejects every request.
func (m *ResourceManager) Resolve(requested []string) ([]*ResourceDefinition, *oidcerr.Error) {
	if len(requested) == 0 {
		return nil, nil
	}

	out := make([]*ResourceDefinition, 0, len(requested))
	for _, r := range requested {
		if err := ValidateResourceURI(r); err != nil {
			return nil, err
		}
		def, ok := m.resources[r]
		if !ok {
			return nil, oidcerr.Validate(oidcerr.CodeInvalidTarget, "").
				WithDescriptionf("resource %q is not a registered audience", r)
		}
		out = append(out, def)
	}
	return out, nil
}

// URIs returns all registered resource indicators.
func (m *ResourceManager) URIs() []string {
	out := make([]string, 0, len(m.resources))
	for uri := range m.resources {
		out = append(out, uri)
	}
	slices.Sort(out)
	return out
}

// ResolveOptions carries the flow context scope resolution depends on.
type ResolveOptions struct {
	// Interactive is true for flows with an authenticated end user present
	// (authorization code, device, CIBA).
	Interactive bool

	// ClientCanRefresh is true when the client registered the
	// refresh_token grant type.
	ClientCanRefresh bool
}

// ScopeManager resolves requested scopes against the registered set.
type ScopeManager struct {
	scopes map[string]*ScopeDefinition
}

// NewScopeManager registers the server's grantable scopes.
func NewScopeManager(defs ...*ScopeDefinition) *ScopeManager {
	m := &ScopeManager{scopes: make(map[string]*ScopeDefinition, len(defs))}
	for _, def := range defs {
		m.scopes[def.Name] = def
	}
	return m
}

// Resolve validates requested scopes and returns the granted definitions.
// A scope must be registered here or declared by one of the requested
// resources; anything else yields invalid_scope. offline_access is
// dropped, not rejected, when the flow is non-interactive or the client
// cannot refresh (OIDC Core §11). A resource-bound scope must be
// registered at one of the requested resources.
func (m *ScopeManager) Resolve(requested []string, resources []*ResourceDefinition, opts ResolveOptions) ([]*ScopeDefinition, *oidcerr.Error) {
	granted := make([]*ScopeDefinition, 0, len(requested))
	for _, name := range requested {
		def, ok := m.scopes[name]
		if !ok {
			if !scopeAtAnyResource(name, resources) {
				return nil, oidcerr.Validate(oidcerr.CodeInvalidScope, "").
					WithDescriptionf("scope %q is not recognized", name)
			}
			// Known only to the resource; grant it bound to that resource.
			granted = append(granted, &ScopeDefinition{Name: name, ResourceBound: true})
			continue
		}

		if name == OfflineAccessScope && !(opts.Interactive && opts.ClientCanRefresh) {
			continue
		}

		if def.ResourceBound && !scopeAtAnyResource(name, resources) {
			return nil, oidcerr.Validate(oidcerr.CodeInvalidScope, "").
				WithDescriptionf("scope %q requires a resource that grants it", name)
		}

		granted = append(granted, def)
	}
	return granted, nil
}

// Claims aggregates the claim names released by a set of granted scopes.
func (m *ScopeManager) Claims(granted []*ScopeDefinition) []string {
	var out []string
	for _, def := range granted {
		for _, claim := range def.Claims {
			if !slices.Contains(out, claim) {
				out = append(out, claim)
			}
		}
	}
	return out
}

// Names returns all registered scope names.
func (m *ScopeManager) Names() []string {
	out := make([]string, 0, len(m.scopes))
	for name := range m.scopes {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func scopeAtAnyResource(name string, resources []*ResourceDefinition) bool {
	for _, res := range resources {
		if slices.Contains(res.Scopes, name) {
			return true
		}
	}
	return false
}
