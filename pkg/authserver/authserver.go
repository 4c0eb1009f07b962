// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles the OAuth 2.0 / OpenID Connect provider:
// storage, key management, client authentication, grant processing and
// the HTTP endpoints. The host embeds a Server and contributes the two
// things a protocol engine cannot know: how users sign in (the
// Authorizer) and, for CIBA, how they are reached out-of-band.
package authserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/kestrelauth/kestrel/pkg/authserver/clientauth"
	"github.com/kestrelauth/kestrel/pkg/authserver/idp"
	"github.com/kestrelauth/kestrel/pkg/authserver/registration"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/ciba"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/device"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/discovery"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/fetch"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/grants"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/handlers"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/keys"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/logout"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/session"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/oauth"
	"github.com/kestrelauth/kestrel/pkg/routes"
	"github.com/kestrelauth/kestrel/pkg/telemetry"
)

// Options carries the host-provided pieces.
type Options struct {
	// Authorizer bridges the authorization endpoint to the host's login
	// and consent UI. Required unless the authorize endpoint is disabled.
	Authorizer handlers.Authorizer

	// CIBAAuthenticator reaches the user on their authentication device.
	// Nil disables the CIBA grant and its endpoint.
	CIBAAuthenticator ciba.Authenticator

	// HTTPClient is used for all outbound requests: upstream IdP calls,
	// client JWKS fetches, sector identifier documents and back-channel
	// logout. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Metrics collects counters; nil disables collection.
	Metrics *telemetry.Metrics
}

// Server is an assembled authorization server.
type Server struct {
	cfg      Config
	store    storage.Storage
	keys     *keys.Manager
	issuer   *issuer.Issuer
	sessions *session.Service
	device   *device.Service
	ciba     *ciba.Service
	metrics  *telemetry.Metrics
	handler  http.Handler
}

// New builds a Server from configuration. Static clients are seeded into
// storage; a changed definition overwrites the stored one.
func New(ctx context.Context, cfg Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	store, err := cfg.Storage.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("building storage: %w", err)
	}
	if err := seedClients(ctx, store, cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	km, err := keys.NewManagerFromConfig(ctx, cfg.Keys)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("loading signing keys: %w", err)
	}

	iss := issuer.New(issuer.Config{
		Issuer:               cfg.Issuer,
		AccessTokenLifetime:  cfg.Tokens.AccessTokenLifetime,
		RefreshTokenLifetime: cfg.Tokens.RefreshTokenLifetime,
		IDTokenLifetime:      cfg.Tokens.IDTokenLifetime,
		PairwiseSalt:         cfg.PairwiseSalt,
	}, km, store)

	scopes := registry.NewScopeManager(cfg.scopeDefinitions()...)
	resources, err := registry.NewResourceManager(cfg.resourceDefinitions()...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("registering resources: %w", err)
	}

	resolver := routes.NewResolver(routes.DefaultRoutes(), cfg.RouteOverrides)
	endpointURL := func(key string) (string, error) {
		path, err := resolver.Path(key)
		if err != nil {
			return "", err
		}
		return cfg.Issuer + path, nil
	}
	tokenEndpoint, err := endpointURL(routes.KeyToken)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	remoteKeys, err := jwks.New(ctx, httpClient)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating JWKS client: %w", err)
	}

	auth := clientauth.NewRegistry(store, store, remoteKeys, clientauth.Config{
		Issuer:        cfg.Issuer,
		TokenEndpoint: tokenEndpoint,
	})

	deviceCfg := cfg.Device
	if deviceCfg.VerificationURI == "" {
		deviceCfg.VerificationURI = cfg.Issuer + "/device"
	}
	deviceSvc := device.New(deviceCfg, store)

	var cibaSvc *ciba.Service
	if opts.CIBAAuthenticator != nil {
		cibaSvc = ciba.New(cfg.CIBA, store, opts.CIBAAuthenticator)
	}

	sessions := session.New(cfg.Session, store)
	logoutSvc := logout.New(logout.Config{
		Issuer:        cfg.Issuer,
		Parallelism:   cfg.Logout.Parallelism,
		TargetTimeout: cfg.Logout.TargetTimeout,
		Metrics:       opts.Metrics,
	}, store, iss, httpClient)

	dispatcher, err := buildDispatcher(ctx, cfg, store, iss, scopes, resources, remoteKeys, deviceSvc, cibaSvc, httpClient)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	disabled := slices.Clone(cfg.DisabledEndpoints)
	if cibaSvc == nil && !slices.Contains(disabled, routes.KeyBackchannelAuth) {
		disabled = append(disabled, routes.KeyBackchannelAuth)
	}
	disc := discovery.New(discovery.Config{
		Issuer:                 cfg.Issuer,
		Disabled:               disabled,
		MTLSBaseURI:            cfg.MTLS.BaseURI,
		RequirePAR:             cfg.RequirePAR,
		CertificateBoundTokens: cfg.MTLS.CertificateBoundTokens,
	}, resolver, buildCapabilities(cfg, dispatcher, km, cibaSvc != nil))

	registrationEndpoint, err := endpointURL(routes.KeyRegister)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	regSvc := registration.New(registration.Config{
		RegistrationEndpoint: registrationEndpoint,
		GrantTypes:           dispatcher.GrantTypes(),
		ResponseTypes:        supportedResponseTypes(),
		TokenAuthMethods:     supportedAuthMethods(cfg),
		SigningAlgs:          km.SigningAlgorithms(),
		Scopes:               scopeNames(cfg),
		SecretLifetime:       cfg.Registration.SecretLifetime,
	}, store, httpClient)

	fetchers := fetch.Chain{
		&fetch.PAR{Store: store},
		&fetch.RequestURI{HTTP: httpClient},
		&fetch.RequestObject{Issuer: cfg.Issuer, RemoteKeys: remoteKeys},
	}
	h := handlers.New(handlers.Config{
		Issuer:     cfg.Issuer,
		RequirePAR: cfg.RequirePAR,
		CodeTTL:    cfg.CodeTTL,
		PARTTL:     cfg.PARTTL,
		Disabled:   disabled,
	}, resolver, handlers.Deps{
		Store:        store,
		Auth:         auth,
		Fetchers:     fetchers,
		Scopes:       scopes,
		Resources:    resources,
		Issuer:       iss,
		Grants:       dispatcher,
		Device:       deviceSvc,
		CIBA:         cibaSvc,
		Sessions:     sessions,
		Logout:       logoutSvc,
		Discovery:    disc,
		Registration: regSvc,
		Keys:         km,
		Authorizer:   opts.Authorizer,
		Metrics:      opts.Metrics,
	})
	handler, err := h.Routes()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("mounting routes: %w", err)
	}

	return &Server{
		cfg:      cfg,
		store:    store,
		keys:     km,
		issuer:   iss,
		sessions: sessions,
		device:   deviceSvc,
		ciba:     cibaSvc,
		metrics:  opts.Metrics,
		handler:  handler,
	}, nil
}

// buildDispatcher wires every enabled grant processor.
func buildDispatcher(
	ctx context.Context,
	cfg Config,
	store storage.Storage,
	iss *issuer.Issuer,
	scopes *registry.ScopeManager,
	resources *registry.ResourceManager,
	remoteKeys *jwks.Client,
	deviceSvc *device.Service,
	cibaSvc *ciba.Service,
	httpClient *http.Client,
) (*grants.Dispatcher, error) {
	processors := []grants.Processor{
		&grants.AuthorizationCode{Codes: store, Tokens: store, Issuer: iss},
		&grants.RefreshToken{Tokens: store, Issuer: iss},
		&grants.ClientCredentials{Scopes: scopes, Resources: resources, Issuer: iss},
		&grants.DeviceCode{Devices: store, Issuer: iss},
	}

	if cfg.Upstream != nil {
		provider, err := idp.New(ctx, *cfg.Upstream, httpClient)
		if err != nil {
			return nil, fmt.Errorf("configuring upstream identity provider: %w", err)
		}
		processors = append(processors, &grants.Password{IDP: provider, Scopes: scopes, Issuer: iss})
	}

	if len(cfg.TrustedIssuers) > 0 {
		trusted := make([]grants.TrustedIssuer, 0, len(cfg.TrustedIssuers))
		for _, ti := range cfg.TrustedIssuers {
			trusted = append(trusted, grants.TrustedIssuer{Issuer: ti.Issuer, JWKSURI: ti.JWKSURI})
		}
		processors = append(processors, &grants.JWTBearer{
			Audience:       cfg.Issuer,
			TrustedIssuers: trusted,
			RemoteKeys:     remoteKeys,
			Replay:         store,
			Issuer:         iss,
		})
	}

	if cibaSvc != nil {
		processors = append(processors, &grants.CIBA{Requests: store, Issuer: iss})
	}

	return grants.NewDispatcher(processors...), nil
}

func buildCapabilities(cfg Config, dispatcher *grants.Dispatcher, km *keys.Manager, cibaEnabled bool) discovery.Capabilities {
	subjectTypes := []string{oauth.SubjectTypePublic}
	if cfg.PairwiseSalt != "" {
		subjectTypes = append(subjectTypes, oauth.SubjectTypePairwise)
	}

	plainPKCE := false
	for _, c := range cfg.Clients {
		if c.AllowPlainPKCE {
			plainPKCE = true
			break
		}
	}

	return discovery.Capabilities{
		GrantTypes:    dispatcher.GrantTypes(),
		ResponseTypes: supportedResponseTypes(),
		ResponseModes: []string{
			oauth.ResponseModeQuery, oauth.ResponseModeFragment, oauth.ResponseModeFormPost,
			oauth.ResponseModeJWT, oauth.ResponseModeQueryJWT, oauth.ResponseModeFragmentJWT, oauth.ResponseModeFormPostJWT,
		},
		Scopes:           scopeNames(cfg),
		Claims:           claimNames(cfg),
		SigningAlgs:      km.SigningAlgorithms(),
		TokenAuthMethods: supportedAuthMethods(cfg),
		SubjectTypes:     subjectTypes,
		ACRValues:        cfg.ACRValues,
		PlainPKCE:        plainPKCE,
		CIBA:             cibaEnabled,
	}
}

func supportedResponseTypes() []string {
	return []string{
		"code", "id_token", "code id_token",
		"code token", "id_token token", "code id_token token",
	}
}

func supportedAuthMethods(cfg Config) []string {
	methods := []string{
		oauth.TokenEndpointAuthMethodBasic,
		oauth.TokenEndpointAuthMethodPost,
		oauth.TokenEndpointAuthMethodSecretJWT,
		oauth.TokenEndpointAuthMethodPrivateKeyJWT,
		oauth.TokenEndpointAuthMethodNone,
	}
	if cfg.MTLS.BaseURI != "" {
		methods = append(methods,
			oauth.TokenEndpointAuthMethodTLSClientAuth,
			oauth.TokenEndpointAuthMethodSelfSignedTLSAuth)
	}
	return methods
}

func scopeNames(cfg Config) []string {
	defs := cfg.scopeDefinitions()
	out := make([]string, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Name)
	}
	return out
}

// claimNames is the advertised claim vocabulary: the protocol claims plus
// everything any scope can release.
func claimNames(cfg Config) []string {
	out := []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "acr", "amr", "sid"}
	for _, def := range cfg.scopeDefinitions() {
		for _, claim := range def.Claims {
			if !slices.Contains(out, claim) {
				out = append(out, claim)
			}
		}
	}
	return out
}

// seedClients writes the statically configured clients into storage.
func seedClients(ctx context.Context, store storage.Storage, cfg Config) error {
	for _, c := range cfg.Clients {
		err := store.CreateClient(ctx, c)
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = store.UpdateClient(ctx, c)
		}
		if err != nil {
			return fmt.Errorf("seeding client %q: %w", c.ID, err)
		}
	}
	return nil
}

// Handler returns the HTTP surface, ready to mount.
func (s *Server) Handler() http.Handler { return s.handler }

// Storage exposes the backing store, mainly for host-driven operations
// like approving device grants.
func (s *Server) Storage() storage.Storage { return s.store }

// Issuer exposes the token issuer.
func (s *Server) Issuer() *issuer.Issuer { return s.issuer }

// Keys exposes the signing key manager, for rotation.
func (s *Server) Keys() *keys.Manager { return s.keys }

// Sessions exposes the session service; the host calls Establish after a
// successful login.
func (s *Server) Sessions() *session.Service { return s.sessions }

// Device exposes the device grant service; the host calls VerifyUserCode
// and Approve from its verification page.
func (s *Server) Device() *device.Service { return s.device }

// CIBA exposes the backchannel authentication service, or nil when no
// authenticator was provided.
func (s *Server) CIBA() *ciba.Service { return s.ciba }

// Healthy reports storage availability.
func (s *Server) Healthy(ctx context.Context) error { return s.store.Health(ctx) }

// Close releases the storage backend.
func (s *Server) Close() error { return s.store.Close() }
