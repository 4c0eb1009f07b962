// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared RFC-defined types and constants for
// OAuth 2.0 and OpenID Connect: grant types, response types and modes,
// client authentication methods, and the discovery document shapes
// (RFC 8414, OIDC Discovery, RFC 8705 mTLS aliases).
package oauth

// Grant type identifiers.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeCIBA              = "urn:openid:params:grant-type:ciba"
	GrantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Response types.
const (
	ResponseTypeCode             = "code"
	ResponseTypeIDToken          = "id_token"
	ResponseTypeToken            = "token"
	ResponseTypeCodeIDToken      = "code id_token"
	ResponseTypeCodeToken        = "code token"
	ResponseTypeCodeIDTokenToken = "code id_token token"
	ResponseTypeIDTokenToken     = "id_token token"
)

// Response modes, including the JARM variants.
const (
	ResponseModeQuery        = "query"
	ResponseModeFragment     = "fragment"
	ResponseModeFormPost     = "form_post"
	ResponseModeJWT          = "jwt"
	ResponseModeQueryJWT     = "query.jwt"
	ResponseModeFragmentJWT  = "fragment.jwt"
	ResponseModeFormPostJWT  = "form_post.jwt"
)

// Token endpoint authentication methods.
const (
	TokenEndpointAuthMethodNone              = "none"
	TokenEndpointAuthMethodBasic             = "client_secret_basic"
	TokenEndpointAuthMethodPost              = "client_secret_post"
	TokenEndpointAuthMethodSecretJWT         = "client_secret_jwt"
	TokenEndpointAuthMethodPrivateKeyJWT     = "private_key_jwt"
	TokenEndpointAuthMethodTLSClientAuth     = "tls_client_auth"
	TokenEndpointAuthMethodSelfSignedTLSAuth = "self_signed_tls_client_auth"
)

// Prompt parameter values (OIDC Core §3.1.2.1).
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// Client assertion type for JWT-based client authentication (RFC 7523).
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Subject identifier types.
const (
	SubjectTypePublic   = "public"
	SubjectTypePairwise = "pairwise"
)

// PAR request_uri prefix (RFC 9126).
const PARRequestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// BackchannelLogoutEvent is the events claim key in logout tokens.
const BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// MTLSEndpointAliases carries the mutual-TLS endpoint aliases (RFC 8705 §5).
type MTLSEndpointAliases struct {
	AuthorizationEndpoint              string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                      string `json:"token_endpoint,omitempty"`
	UserInfoEndpoint                   string `json:"userinfo_endpoint,omitempty"`
	IntrospectionEndpoint              string `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                 string `json:"revocation_endpoint,omitempty"`
	PushedAuthorizationRequestEndpoint string `json:"pushed_authorization_request_endpoint,omitempty"`
	DeviceAuthorizationEndpoint        string `json:"device_authorization_endpoint,omitempty"`
	BackchannelAuthenticationEndpoint  string `json:"backchannel_authentication_endpoint,omitempty"`
	RegistrationEndpoint               string `json:"registration_endpoint,omitempty"`
}

// IsEmpty reports whether no alias is set.
func (a *MTLSEndpointAliases) IsEmpty() bool {
	return *a == MTLSEndpointAliases{}
}

// AuthorizationServerMetadata is the OAuth 2.0 Authorization Server
// Metadata document (RFC 8414).
type AuthorizationServerMetadata struct {
	// REQUIRED
	Issuer string `json:"issuer"`

	// RECOMMENDED
	AuthorizationEndpoint  string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint          string   `json:"token_endpoint,omitempty"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	RegistrationEndpoint   string   `json:"registration_endpoint,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`

	// OPTIONAL
	ResponseModesSupported                             []string             `json:"response_modes_supported,omitempty"`
	GrantTypesSupported                                []string             `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported                  []string             `json:"token_endpoint_auth_methods_supported,omitempty"`
	TokenEndpointAuthSigningAlgValuesSupported         []string             `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	RevocationEndpoint                                 string               `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint                              string               `json:"introspection_endpoint,omitempty"`
	CodeChallengeMethodsSupported                      []string             `json:"code_challenge_methods_supported,omitempty"`
	PushedAuthorizationRequestEndpoint                 string               `json:"pushed_authorization_request_endpoint,omitempty"`
	RequirePushedAuthorizationRequests                 bool                 `json:"require_pushed_authorization_requests,omitempty"`
	DeviceAuthorizationEndpoint                        string               `json:"device_authorization_endpoint,omitempty"`
	AuthorizationResponseIssParameterSupported         bool                 `json:"authorization_response_iss_parameter_supported,omitempty"`
	TLSClientCertificateBoundAccessTokens              bool                 `json:"tls_client_certificate_bound_access_tokens,omitempty"`
	MTLSEndpointAliases                                *MTLSEndpointAliases `json:"mtls_endpoint_aliases,omitempty"`
	AuthorizationSigningAlgValuesSupported             []string             `json:"authorization_signing_alg_values_supported,omitempty"`
	RequestParameterSupported                          bool                 `json:"request_parameter_supported,omitempty"`
	RequestURIParameterSupported                       bool                 `json:"request_uri_parameter_supported,omitempty"`
	RequireRequestURIRegistration                      bool                 `json:"require_request_uri_registration,omitempty"`
	RequestObjectSigningAlgValuesSupported             []string             `json:"request_object_signing_alg_values_supported,omitempty"`
	BackchannelAuthenticationEndpoint                  string               `json:"backchannel_authentication_endpoint,omitempty"`
	BackchannelTokenDeliveryModesSupported             []string             `json:"backchannel_token_delivery_modes_supported,omitempty"`
	BackchannelAuthenticationRequestSigningAlgValues   []string             `json:"backchannel_authentication_request_signing_alg_values_supported,omitempty"`
}

// OIDCDiscoveryDocument extends the AS metadata with the OIDC-specific
// discovery fields.
type OIDCDiscoveryDocument struct {
	AuthorizationServerMetadata

	UserInfoEndpoint                   string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                 string   `json:"end_session_endpoint,omitempty"`
	CheckSessionIframe                 string   `json:"check_session_iframe,omitempty"`
	SubjectTypesSupported              []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported   []string `json:"id_token_signing_alg_values_supported,omitempty"`
	IDTokenEncryptionAlgValuesSupported []string `json:"id_token_encryption_alg_values_supported,omitempty"`
	IDTokenEncryptionEncValuesSupported []string `json:"id_token_encryption_enc_values_supported,omitempty"`
	UserInfoSigningAlgValuesSupported  []string `json:"userinfo_signing_alg_values_supported,omitempty"`
	ClaimsSupported                    []string `json:"claims_supported,omitempty"`
	ACRValuesSupported                 []string `json:"acr_values_supported,omitempty"`
	FrontchannelLogoutSupported        bool     `json:"frontchannel_logout_supported,omitempty"`
	FrontchannelLogoutSessionSupported bool     `json:"frontchannel_logout_session_supported,omitempty"`
	BackchannelLogoutSupported         bool     `json:"backchannel_logout_supported,omitempty"`
	BackchannelLogoutSessionSupported  bool     `json:"backchannel_logout_session_supported,omitempty"`
	PromptValuesSupported              []string `json:"prompt_values_supported,omitempty"`
}
