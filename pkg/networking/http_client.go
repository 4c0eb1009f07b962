// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// HttpTimeout is the overall timeout for outgoing HTTP requests.
const HttpTimeout = 30 * time.Second

// Dialer control function for validating addresses prior to connection.
// Runs after DNS resolution, so the address checked is the one dialed.
func protectedDialerControl(_, address string, _ syscall.RawConn) error {
	return AddressReferencesPrivateIp(address)
}

// ValidatingTransport rejects non-HTTPS request URLs before forwarding.
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL prior to forwarding.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parsedUrl, err := url.Parse(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("the supplied URL %s is malformed", req.URL.String())
	}

	if parsedUrl.Scheme != "https" {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.String())
	}

	return t.Transport.RoundTrip(req)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients.
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	allowPrivate          bool
	allowPlainHTTP        bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder with default timeouts.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout sets the overall client timeout.
func (b *HttpClientBuilder) WithTimeout(d time.Duration) *HttpClientBuilder {
	b.clientTimeout = d
	return b
}

// WithPrivateIPs allows connections to private IP addresses.
// Intended for tests and explicitly trusted internal deployments.
func (b *HttpClientBuilder) WithPrivateIPs(allow bool) *HttpClientBuilder {
	b.allowPrivate = allow
	return b
}

// WithPlainHTTP allows http:// URLs. Intended for tests only; production
// fetches (request_uri, JWKS, sector identifiers) must stay HTTPS.
func (b *HttpClientBuilder) WithPlainHTTP(allow bool) *HttpClientBuilder {
	b.allowPlainHTTP = allow
	return b
}

// Build creates the configured HTTP client.
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if !b.allowPrivate {
		transport.DialContext = (&net.Dialer{
			Control: protectedDialerControl,
		}).DialContext
	}

	var rt http.RoundTripper = transport
	if !b.allowPlainHTTP {
		rt = &ValidatingTransport{Transport: transport}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   b.clientTimeout,
	}, nil
}
