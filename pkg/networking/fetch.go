// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultMaxResponseSize is the default maximum response body size (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize is the maximum size of error body preview in HTTPError.
	DefaultErrorPreviewSize = 1024

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded is the form-urlencoded content type.
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"

	// ContentTypeJWT is the JWT content type used for request objects (RFC 9101).
	ContentTypeJWT = "application/oauth-authz-req+jwt"
)

// HTTPClient is the subset of *http.Client the fetch helpers need.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPError represents an HTTP error response with status code and body preview.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is a preview of the response body (limited to DefaultErrorPreviewSize).
	Body string

	// URL is the requested URL.
	URL string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status %d", e.URL, e.StatusCode)
}

// IsHTTPError checks if an error is an HTTPError with the specified status code.
// If statusCode is 0, it matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if statusCode == 0 {
		return true
	}
	return httpErr.StatusCode == statusCode
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	method                    string
	headers                   http.Header
	body                      io.Reader
	maxResponseSize           int64
	skipContentTypeValidation bool
}

func newFetchOptions() *fetchOptions {
	return &fetchOptions{
		method:          http.MethodGet,
		headers:         make(http.Header),
		maxResponseSize: DefaultMaxResponseSize,
	}
}

// WithMethod sets the HTTP method for the request.
func WithMethod(method string) FetchOption {
	return func(opts *fetchOptions) {
		opts.method = method
	}
}

// WithHeader adds a single header to the request.
func WithHeader(key, value string) FetchOption {
	return func(opts *fetchOptions) {
		opts.headers.Set(key, value)
	}
}

// WithBody sets the request body.
func WithBody(body io.Reader) FetchOption {
	return func(opts *fetchOptions) {
		opts.body = body
	}
}

// WithMaxResponseSize sets the maximum response body size.
// If not set, DefaultMaxResponseSize (1MB) is used.
func WithMaxResponseSize(size int64) FetchOption {
	return func(opts *fetchOptions) {
		opts.maxResponseSize = size
	}
}

// WithoutContentTypeValidation disables Content-Type validation.
func WithoutContentTypeValidation() FetchOption {
	return func(opts *fetchOptions) {
		opts.skipContentTypeValidation = true
	}
}

// FetchBody performs an HTTP request and returns the raw, size-capped
// response body. Used for request_uri dereferencing where the payload is a
// compact JWS, not JSON.
func FetchBody(
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	opts ...FetchOption,
) ([]byte, error) {
	options := newFetchOptions()
	for _, opt := range opts {
		opt(options)
	}
	options.skipContentTypeValidation = true

	body, _, err := doFetch(ctx, client, requestURL, options)
	return body, err
}

// FetchJSON performs an HTTP request and parses the JSON response body.
// It sets the Accept header to application/json by default.
// For non-200 responses, it returns an HTTPError.
func FetchJSON[T any](
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	opts ...FetchOption,
) (T, error) {
	var data T

	options := newFetchOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.headers.Get("Accept") == "" {
		options.headers.Set("Accept", ContentTypeJSON)
	}

	body, resp, err := doFetch(ctx, client, requestURL, options)
	if err != nil {
		return data, err
	}

	if !options.skipContentTypeValidation {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), ContentTypeJSON) {
			return data, fmt.Errorf("unexpected content type: %s", contentType)
		}
	}

	if err := json.Unmarshal(body, &data); err != nil {
		return data, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return data, nil
}

func doFetch(
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	options *fetchOptions,
) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, options.method, requestURL, options.body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range options.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyPreview := string(body)
		if len(bodyPreview) > DefaultErrorPreviewSize {
			bodyPreview = bodyPreview[:DefaultErrorPreviewSize]
		}
		return nil, resp, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       bodyPreview,
			URL:        requestURL,
		}
	}

	return body, resp, nil
}
