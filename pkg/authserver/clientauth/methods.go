// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/jwks"
	"github.com/kestrelauth/kestrel/pkg/jwt"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// hmacAlgorithms are the algorithms accepted for client_secret_jwt.
var hmacAlgorithms = []jose.SignatureAlgorithm{jose.HS256, jose.HS384, jose.HS512}

// asymmetricAlgorithms are the algorithms accepted for private_key_jwt.
var asymmetricAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// noneAuthenticator accepts public clients that present no credential.
type noneAuthenticator struct{}

func (*noneAuthenticator) Method() string { return oauth.TokenEndpointAuthMethodNone }

func (*noneAuthenticator) Authenticate(_ context.Context, req *Request, _ *client.Client) error {
	// A public client presenting credentials is a registration mismatch,
	// not an authentication.
	if req.ClientSecret != "" || req.ClientAssertion != "" {
		return errors.New("public client must not present credentials")
	}
	return nil
}

// secretBasicAuthenticator verifies a secret from the Authorization header.
type secretBasicAuthenticator struct{}

func (*secretBasicAuthenticator) Method() string { return oauth.TokenEndpointAuthMethodBasic }

func (*secretBasicAuthenticator) Authenticate(_ context.Context, req *Request, c *client.Client) error {
	if !req.BasicAuth || req.ClientSecret == "" {
		return ErrMethodNotAttempted
	}
	if !c.CheckSecret(req.ClientSecret, time.Now()) {
		return errors.New("client secret mismatch")
	}
	return nil
}

// secretPostAuthenticator verifies a secret from the form body.
type secretPostAuthenticator struct{}

func (*secretPostAuthenticator) Method() string { return oauth.TokenEndpointAuthMethodPost }

func (*secretPostAuthenticator) Authenticate(_ context.Context, req *Request, c *client.Client) error {
	if req.BasicAuth || req.ClientSecret == "" {
		return ErrMethodNotAttempted
	}
	if !c.CheckSecret(req.ClientSecret, time.Now()) {
		return errors.New("client secret mismatch")
	}
	return nil
}

// secretJWTAuthenticator verifies an HMAC assertion keyed by the client
// secret (client_secret_jwt).
type secretJWTAuthenticator struct {
	assertions *assertionVerifier
}

func (*secretJWTAuthenticator) Method() string { return oauth.TokenEndpointAuthMethodSecretJWT }

func (a *secretJWTAuthenticator) Authenticate(ctx context.Context, req *Request, c *client.Client) error {
	if !assertionPresented(req) {
		return ErrMethodNotAttempted
	}
	if c.Secret == nil || c.Secret.Value == "" {
		return errors.New("client has no recoverable secret for HMAC assertions")
	}

	verifier := jwt.NewSymmetricVerifier([]byte(c.Secret.Value))
	return a.assertions.verify(ctx, req.ClientAssertion, verifier, hmacAlgorithms, c.ID)
}

// privateKeyJWTAuthenticator verifies an asymmetric assertion against the
// client's registered JWKS, by value or by URI (private_key_jwt).
type privateKeyJWTAuthenticator struct {
	assertions *assertionVerifier
	remoteKeys *jwks.Client
}

func (*privateKeyJWTAuthenticator) Method() string {
	return oauth.TokenEndpointAuthMethodPrivateKeyJWT
}

func (a *privateKeyJWTAuthenticator) Authenticate(ctx context.Context, req *Request, c *client.Client) error {
	if !assertionPresented(req) {
		return ErrMethodNotAttempted
	}

	set, err := a.clientKeys(ctx, c)
	if err != nil {
		return err
	}

	verifier := jwt.NewVerifier(set.Keys)
	return a.assertions.verify(ctx, req.ClientAssertion, verifier, asymmetricAlgorithms, c.ID)
}

func (a *privateKeyJWTAuthenticator) clientKeys(ctx context.Context, c *client.Client) (*jose.JSONWebKeySet, error) {
	switch {
	case len(c.JWKS) > 0:
		set, err := jwt.UnmarshalJWKS(c.JWKS)
		if err != nil {
			return nil, fmt.Errorf("registered JWKS is invalid: %w", err)
		}
		return set, nil
	case c.JWKSURI != "":
		if a.remoteKeys == nil {
			return nil, errors.New("remote JWKS retrieval is not configured")
		}
		set, err := a.remoteKeys.JoseKeys(ctx, c.JWKSURI)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch client JWKS: %w", err)
		}
		return set, nil
	default:
		return nil, errors.New("client has no registered JWKS")
	}
}

// tlsAuthenticator matches the PKI client certificate against registered
// subject metadata (tls_client_auth, RFC 8705 §2.1.2).
type tlsAuthenticator struct{}

func (*tlsAuthenticator) Method() string { return oauth.TokenEndpointAuthMethodTLSClientAuth }

func (*tlsAuthenticator) Authenticate(_ context.Context, req *Request, c *client.Client) error {
	if req.Certificate == nil {
		return ErrMethodNotAttempted
	}
	if c.TLS == nil {
		return errors.New("client has no registered certificate metadata")
	}

	cert := req.Certificate
	tls := c.TLS

	// RFC 8705: exactly one subject registration parameter is used; the
	// first configured one decides.
	switch {
	case tls.SubjectDN != "":
		if cert.Subject.String() != tls.SubjectDN {
			return errors.New("certificate subject DN mismatch")
		}
	case tls.SANDNS != "":
		if !slices.Contains(cert.DNSNames, tls.SANDNS) {
			return errors.New("certificate SAN DNS mismatch")
		}
	case tls.SANURI != "":
		if !slices.ContainsFunc(cert.URIs, func(u *url.URL) bool { return u.String() == tls.SANURI }) {
			return errors.New("certificate SAN URI mismatch")
		}
	case tls.SANIP != "":
		found := false
		for _, ip := range cert.IPAddresses {
			if ip.String() == tls.SANIP {
				found = true
				break
			}
		}
		if !found {
			return errors.New("certificate SAN IP mismatch")
		}
	case tls.SANEmail != "":
		if !slices.Contains(cert.EmailAddresses, tls.SANEmail) {
			return errors.New("certificate SAN email mismatch")
		}
	default:
		return errors.New("client has no certificate subject registered")
	}

	return nil
}

// selfSignedTLSAuthenticator pins the client certificate by thumbprint
// (self_signed_tls_client_auth, RFC 8705 §2.2).
type selfSignedTLSAuthenticator struct{}

func (*selfSignedTLSAuthenticator) Method() string {
	return oauth.TokenEndpointAuthMethodSelfSignedTLSAuth
}

func (*selfSignedTLSAuthenticator) Authenticate(_ context.Context, req *Request, c *client.Client) error {
	if req.Certificate == nil {
		return ErrMethodNotAttempted
	}
	if c.TLS == nil || c.TLS.CertThumbprint == "" {
		return errors.New("client has no registered certificate thumbprint")
	}
	if CertificateThumbprint(req.Certificate) != c.TLS.CertThumbprint {
		return errors.New("certificate thumbprint mismatch")
	}
	return nil
}

// assertionVerifier implements the shared RFC 7523 §3 checks for both JWT
// assertion methods.
type assertionVerifier struct {
	replay storage.ReplayCache
	cfg    Config
}

func (v *assertionVerifier) verify(ctx context.Context, assertion string, verifier *jwt.Verifier, algs []jose.SignatureAlgorithm, clientID string) error {
	token, err := verifier.Verify(assertion, jwt.Expectations{
		Algorithms:    algs,
		RequireExpiry: true,
	})
	if err != nil {
		return fmt.Errorf("assertion verification failed: %w", err)
	}

	claims := token.Claims
	if claims.Issuer() != clientID || claims.Subject() != clientID {
		return errors.New("assertion iss and sub must both be the client_id")
	}
	if !claims.HasAudience(v.cfg.Issuer) && !claims.HasAudience(v.cfg.TokenEndpoint) {
		return errors.New("assertion audience does not include this server")
	}

	exp, _ := claims.ExpiresAt()
	if time.Until(exp) > v.cfg.maxAssertionLifetime()+jwt.DefaultClockSkew {
		return errors.New("assertion lifetime exceeds the allowed maximum")
	}

	jti := claims.ID()
	if jti == "" {
		return errors.New("assertion is missing the jti claim")
	}
	// Scope replay tracking per client; jti uniqueness is per issuer.
	first, err := v.replay.ObserveAssertion(ctx, clientID+":"+jti, exp)
	if err != nil {
		return fmt.Errorf("replay check failed: %w", err)
	}
	if !first {
		return errors.New("assertion jti was already used")
	}

	return nil
}
