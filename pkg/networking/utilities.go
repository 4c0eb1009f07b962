// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the outbound HTTP plumbing used by the
// authorization server for request_uri resolution, remote JWKS retrieval,
// sector-identifier validation and back-channel logout delivery.
//
// Every client built here refuses to connect to private, loopback,
// link-local or multicast addresses. The check runs inside the dialer's
// Control hook, against the address actually being connected to, which
// closes the TOCTOU window between DNS resolution and connect.
package networking

import (
	"fmt"
	"net"
	"net/url"
)

// IsURL reports whether raw is an absolute http(s) URL with a host.
func IsURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// AddressReferencesPrivateIp returns an error when the host:port address
// points at an IP that must never be reached from server-side fetches:
// RFC 1918 ranges, loopback, link-local, unique-local, multicast and the
// unspecified address all qualify.
func AddressReferencesPrivateIp(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// The dialer hands us a resolved address; a non-IP here means
		// something upstream went wrong, so refuse to connect.
		return fmt.Errorf("address %q did not resolve to an IP", address)
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("access to private or local address %s is not allowed", ip)
	}

	return nil
}
