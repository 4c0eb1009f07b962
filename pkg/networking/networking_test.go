// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "valid https url", input: "https://example.com", expected: true},
		{name: "valid http url", input: "http://example.com", expected: true},
		{name: "valid https url with path", input: "https://example.com/path", expected: true},
		{name: "valid https url with port", input: "https://example.com:8443", expected: true},
		{name: "empty string", input: "", expected: false},
		{name: "invalid URL", input: "not-a-url", expected: false},
		{name: "unsupported scheme", input: "ftp://example.com", expected: false},
		{name: "missing scheme", input: "example.com", expected: false},
		{name: "missing host", input: "https://", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsURL(tt.input))
		})
	}
}

func TestAddressReferencesPrivateIp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "loopback", address: "127.0.0.1:443", wantErr: true},
		{name: "rfc1918 10/8", address: "10.1.2.3:443", wantErr: true},
		{name: "rfc1918 172.16/12", address: "172.16.0.1:443", wantErr: true},
		{name: "rfc1918 192.168/16", address: "192.168.1.1:443", wantErr: true},
		{name: "link local", address: "169.254.169.254:80", wantErr: true},
		{name: "multicast", address: "224.0.0.1:443", wantErr: true},
		{name: "unspecified", address: "0.0.0.0:443", wantErr: true},
		{name: "ipv6 loopback", address: "[::1]:443", wantErr: true},
		{name: "ipv6 unique local", address: "[fd00::1]:443", wantErr: true},
		{name: "public ipv4", address: "93.184.216.34:443", wantErr: false},
		{name: "public ipv6", address: "[2606:2800:220:1::1]:443", wantErr: false},
		{name: "unresolved hostname", address: "example.com:443", wantErr: true},
		{name: "no port", address: "93.184.216.34", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := AddressReferencesPrivateIp(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatingTransportRejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).Build()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	//nolint:noctx // transport-level rejection under test
	_, err = client.Get(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not HTTPS")
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"issuer":"https://op.example.com"}`))
	}))
	defer srv.Close()

	type doc struct {
		Issuer string `json:"issuer"`
	}

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).WithPlainHTTP(true).Build()
	require.NoError(t, err)

	got, err := FetchJSON[doc](context.Background(), client, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://op.example.com", got.Issuer)
}

func TestFetchJSONWrongContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).WithPlainHTTP(true).Build()
	require.NoError(t, err)

	_, err = FetchJSON[map[string]any](context.Background(), client, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestFetchJSONStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).WithPlainHTTP(true).Build()
	require.NoError(t, err)

	_, err = FetchJSON[map[string]any](context.Background(), client, srv.URL)
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusForbidden))
}

func TestFetchBodySizeCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).WithPlainHTTP(true).Build()
	require.NoError(t, err)

	body, err := FetchBody(context.Background(), client, srv.URL, WithMaxResponseSize(128))
	require.NoError(t, err)
	assert.Len(t, body, 128)
}
