// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package routes resolves endpoint path templates of the form
// [route:key] or [route:key?fallback]. Templates expand recursively
// against a route table, so an installation can relocate a whole endpoint
// family by overriding a single base key.
package routes

import (
	"fmt"
	"regexp"
	"strings"
)

// Route table keys for the standard endpoints.
const (
	KeyBase                = "base"
	KeyAuthorize           = "authorize"
	KeyToken               = "token"
	KeyUserInfo            = "userinfo"
	KeyIntrospect          = "introspect"
	KeyRevoke              = "revoke"
	KeyEndSession          = "endsession"
	KeyCheckSession        = "checksession"
	KeyPAR                 = "par"
	KeyDeviceAuthorization = "deviceauthorization"
	KeyBackchannelAuth     = "bc-authorize"
	KeyRegister            = "register"
	KeyDiscovery           = "discovery"
	KeyJWKS                = "jwks"
)

// fragmentPattern matches a single [route:key] or [route:key?fallback]
// fragment. Keys are restricted to path-safe characters; the fallback may
// be any text not containing the closing bracket.
var fragmentPattern = regexp.MustCompile(`\[route:([A-Za-z0-9_.-]+)(?:\?([^\]]*))?\]`)

// ErrUnknownRoute is returned when a template references a key that is not
// in the table and carries no fallback.
type ErrUnknownRoute struct {
	Key string
}

func (e *ErrUnknownRoute) Error() string {
	return fmt.Sprintf("unknown route key %q", e.Key)
}

// ErrCircularDependency is returned when route expansion revisits a key
// already being expanded.
type ErrCircularDependency struct {
	Key string
}

func (e *ErrCircularDependency) Error() string {
	return fmt.Sprintf("circular route dependency through %q", e.Key)
}

// Resolver expands route templates against a fixed table.
type Resolver struct {
	table map[string]string
}

// DefaultRoutes returns the standard endpoint layout.
func DefaultRoutes() map[string]string {
	return map[string]string{
		KeyBase:                "/connect",
		KeyAuthorize:           "[route:base]/authorize",
		KeyToken:               "[route:base]/token",
		KeyUserInfo:            "[route:base]/userinfo",
		KeyIntrospect:          "[route:base]/introspect",
		KeyRevoke:              "[route:base]/revoke",
		KeyEndSession:          "[route:base]/endsession",
		KeyCheckSession:        "[route:base]/checksession",
		KeyPAR:                 "[route:base]/par",
		KeyDeviceAuthorization: "[route:base]/deviceauthorization",
		KeyBackchannelAuth:     "[route:base]/bc-authorize",
		KeyRegister:            "[route:base]/register",
		KeyDiscovery:           "/.well-known/openid-configuration",
		KeyJWKS:                "/.well-known/jwks",
	}
}

// NewResolver creates a Resolver over the given table. Overrides are merged
// on top of the table, replacing existing keys.
func NewResolver(table map[string]string, overrides map[string]string) *Resolver {
	merged := make(map[string]string, len(table)+len(overrides))
	for k, v := range table {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &Resolver{table: merged}
}

// Resolve expands every [route:...] fragment in template until the result
// is a fixed point. Unknown keys without fallback raise *ErrUnknownRoute;
// cycles raise *ErrCircularDependency.
func (r *Resolver) Resolve(template string) (string, error) {
	return r.resolve(template, map[string]bool{})
}

// Path resolves the template registered under key.
func (r *Resolver) Path(key string) (string, error) {
	return r.Resolve(fmt.Sprintf("[route:%s]", key))
}

func (r *Resolver) resolve(template string, active map[string]bool) (string, error) {
	for {
		match := fragmentPattern.FindStringSubmatchIndex(template)
		if match == nil {
			return template, nil
		}

		key := template[match[2]:match[3]]
		fallback := ""
		hasFallback := match[4] >= 0
		if hasFallback {
			fallback = template[match[4]:match[5]]
		}

		if active[key] {
			return "", &ErrCircularDependency{Key: key}
		}

		target, ok := r.table[key]
		if !ok {
			if !hasFallback {
				return "", &ErrUnknownRoute{Key: key}
			}
			target = fallback
		}

		active[key] = true
		expanded, err := r.resolve(target, active)
		delete(active, key)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		b.WriteString(template[:match[0]])
		b.WriteString(expanded)
		b.WriteString(template[match[1]:])
		template = b.String()
	}
}
