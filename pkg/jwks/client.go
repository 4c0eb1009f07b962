// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package jwks retrieves and caches remote JSON Web Key Sets: client
// jwks_uri documents, trusted JWT-bearer issuer keys and sector
// identifiers all flow through here. Fetches go through the
// SSRF-protected HTTP client and are cached with automatic refresh;
// concurrent misses for the same URL are coalesced.
package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	kjwt "github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/networking"
)

// DefaultRegisterTimeout bounds the initial fetch when a URL is first
// registered with the cache.
const DefaultRegisterTimeout = 5 * time.Second

// Client is a caching JWKS fetcher.
type Client struct {
	cache *jwk.Cache

	mu         sync.Mutex
	registered map[string]error

	sf singleflight.Group
}

// New creates a Client backed by the given HTTP client. Pass nil to build
// the default SSRF-protected client.
func New(ctx context.Context, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		built, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
		httpClient = built
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &Client{
		cache:      cache,
		registered: make(map[string]error),
	}, nil
}

// ensureRegistered registers the URL with the cache once. Registration
// performs the initial fetch, so it runs under a bounded timeout.
func (c *Client) ensureRegistered(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.registered[url]; ok {
		return err
	}

	registerCtx, cancel := context.WithTimeout(ctx, DefaultRegisterTimeout)
	defer cancel()

	err := c.cache.Register(registerCtx, url)
	if err != nil {
		err = fmt.Errorf("failed to register JWKS URL %s: %w", url, err)
	}
	c.registered[url] = err
	return err
}

// Keys returns the cached key set for the URL, fetching it on first use.
func (c *Client) Keys(ctx context.Context, url string) (jwk.Set, error) {
	if err := c.ensureRegistered(ctx, url); err != nil {
		return nil, err
	}

	set, err := c.cache.Lookup(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to look up JWKS for %s: %w", url, err)
	}
	return set, nil
}

// JoseKeys returns the cached key set converted to go-jose form for use
// with the token layer. Conversion for a given URL is coalesced.
func (c *Client) JoseKeys(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	v, err, _ := c.sf.Do(url, func() (any, error) {
		set, err := c.Keys(ctx, url)
		if err != nil {
			return nil, err
		}

		// jwk.Set marshals to a standard JWKS document, which the jose
		// side parses with kty-dispatched decoding.
		raw, err := json.Marshal(set)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize JWKS: %w", err)
		}
		return kjwt.UnmarshalJWKS(raw)
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKeySet), nil
}
