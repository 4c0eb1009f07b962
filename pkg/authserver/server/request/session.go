// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package request

import "time"

// AuthSession is the authenticated end-user context the host hands to the
// authorization endpoint. The engine never authenticates users itself; it
// consumes whatever session the embedding application established.
type AuthSession struct {
	// Subject is the local user identifier. Empty means no authenticated
	// session.
	Subject string

	// SessionID identifies the browser session for session management and
	// logout notification (the sid claim).
	SessionID string

	ACR string
	AMR []string

	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time

	// Claims are the user claims available for ID token and userinfo
	// assembly, keyed by claim name.
	Claims map[string]any
}

// Authenticated reports whether a user session is present.
func (s *AuthSession) Authenticated() bool {
	return s != nil && s.Subject != ""
}

// AuthorizedGrant is the approval decision for an authorization request:
// which user consented, and what was granted.
type AuthorizedGrant struct {
	Session *AuthSession

	// GrantedScopes may be narrower than the request after consent.
	GrantedScopes []string

	GrantedResources []string
}
