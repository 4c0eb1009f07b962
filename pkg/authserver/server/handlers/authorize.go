// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/registry"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/issuer"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/validate"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/oauth"
)

// AuthorizeRequest is a fully validated authorization request, handed to
// the host's Authorizer for the consent decision.
type AuthorizeRequest = validate.Context

// Authorize handles the authorization endpoint (GET and POST). Errors
// before the redirect URI is validated render an HTML page; everything
// after is delivered to the client in the negotiated response mode.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := request.FromHTTP(r)
	if err != nil {
		h.renderAuthorizeError(w, oidcerr.Invalid("malformed request"))
		return
	}
	usedPAR := strings.HasPrefix(req.Get(request.ParamRequestURI), oauth.PARRequestURIPrefix)

	clientID := req.ClientID()
	if clientID == "" {
		h.renderAuthorizeError(w, oidcerr.Invalid("client_id is required"))
		return
	}
	c, err := h.deps.Store.GetClient(ctx, clientID)
	if err != nil {
		logger.Debugw("authorization for unknown client", "client_id", clientID, "error", err)
		h.renderAuthorizeError(w, oidcerr.Invalid("client_id is unknown"))
		return
	}

	if oerr := h.deps.Fetchers.Run(ctx, req, c); oerr != nil {
		h.renderAuthorizeError(w, oerr)
		return
	}
	if h.cfg.RequirePAR && !usedPAR {
		h.renderAuthorizeError(w, oidcerr.Invalid("this server requires pushed authorization requests"))
		return
	}

	vc := &validate.Context{Request: req, Client: c, AuthSession: h.deps.Authorizer.Session(r)}

	// The redirect URI check runs first and alone: its failure must never
	// be delivered through the very URI that failed.
	if oerr := validate.RedirectURI(ctx, vc); oerr != nil {
		h.renderAuthorizeError(w, oerr)
		return
	}

	pipeline := validate.Pipeline{
		validate.ResponseType,
		validate.ResponseMode,
		validate.PKCE,
		validate.Resources(h.deps.Resources),
		validate.Scopes(h.deps.Scopes),
		validate.Nonce,
		validate.Prompt,
		validate.MaxAge,
	}
	if oerr := pipeline.Run(ctx, vc); oerr != nil {
		h.redirectError(w, r, vc, oerr)
		return
	}

	grant, oerr := h.deps.Authorizer.Authorize(w, r, vc)
	if oerr != nil {
		h.redirectError(w, r, vc, oerr)
		return
	}
	if grant == nil {
		// The host took over, typically redirecting to its login page.
		return
	}

	h.completeAuthorization(w, r, vc, grant)
}

func (h *Handler) completeAuthorization(w http.ResponseWriter, r *http.Request, vc *validate.Context, approved *request.AuthorizedGrant) {
	ctx := r.Context()
	c := vc.Client
	sess := approved.Session

	if !sess.Authenticated() {
		h.redirectError(w, r, vc, oidcerr.ServerError(oidcerr.StageProcess))
		return
	}

	scopes := approved.GrantedScopes
	if scopes == nil {
		scopes = vc.ScopeNames()
	}
	audience := approved.GrantedResources
	if audience == nil {
		audience = vc.Audience()
	}

	grant := &storage.Grant{
		GrantID:   uuid.NewString(),
		ClientID:  c.ID,
		Subject:   sess.Subject,
		Scopes:    scopes,
		Audience:  audience,
		Claims:    grantClaims(sess, vc.Scopes, scopes),
		Nonce:     vc.Request.Nonce(),
		ACR:       sess.ACR,
		AMR:       sess.AMR,
		AuthTime:  sess.AuthTime,
		SessionID: sess.SessionID,
	}

	if sess.SessionID != "" && h.deps.Sessions != nil {
		if err := h.deps.Sessions.RecordClient(ctx, sess.SessionID, c.ID); err != nil {
			logger.Warnw("recording session participant failed",
				"session_id", sess.SessionID, "client_id", c.ID, "error", err)
		}
	}

	params := url.Values{}
	responseTokens := strings.Fields(vc.Request.ResponseType())

	var code, accessToken string
	if slices.Contains(responseTokens, "code") {
		code = crypto.RandomToken(32)
		rec := &storage.CodeRecord{
			Grant:               *grant,
			RedirectURI:         vc.Request.RedirectURI(),
			CodeChallenge:       vc.Request.Get(request.ParamCodeChallenge),
			CodeChallengeMethod: vc.Request.Get(request.ParamCodeChallengeMethod),
			ExpiresAt:           time.Now().Add(h.cfg.CodeTTL),
		}
		if err := h.deps.Store.PutCode(ctx, code, rec); err != nil {
			logger.Errorw("storing authorization code failed", "client_id", c.ID, "error", err)
			h.redirectError(w, r, vc, oidcerr.ServerError(oidcerr.StageProcess))
			return
		}
		params.Set(request.ParamCode, code)
	}
	if slices.Contains(responseTokens, "token") {
		access, err := h.deps.Issuer.AccessToken(ctx, grant, c)
		if err != nil {
			logger.Errorw("access token issuance failed", "client_id", c.ID, "error", err)
			h.redirectError(w, r, vc, oidcerr.ServerError(oidcerr.StageProcess))
			return
		}
		accessToken = access.Token
		params.Set("access_token", access.Token)
		params.Set("token_type", "Bearer")
		params.Set("expires_in", expiresIn(time.Until(access.ExpiresAt)))
		params.Set("scope", strings.Join(scopes, " "))
	}
	if slices.Contains(responseTokens, "id_token") {
		idToken, err := h.deps.Issuer.IDToken(ctx, grant, c, issuer.IDTokenOptions{
			Code:        code,
			AccessToken: accessToken,
		})
		if err != nil {
			logger.Errorw("ID token issuance failed", "client_id", c.ID, "error", err)
			h.redirectError(w, r, vc, oidcerr.ServerError(oidcerr.StageProcess))
			return
		}
		params.Set("id_token", idToken)
	}

	if state := vc.Request.State(); state != "" {
		params.Set("state", state)
	}
	params.Set("iss", h.cfg.Issuer)
	if sess.SessionID != "" && h.deps.Sessions != nil {
		params.Set("session_state",
			h.deps.Sessions.State(c.ID, originOf(vc.Request.RedirectURI()), sess.SessionID))
	}

	h.deliverResponse(w, r, vc, params)
}

// grantClaims selects the session claims released by the granted scopes.
func grantClaims(sess *request.AuthSession, defs []*registry.ScopeDefinition, granted []string) map[string]any {
	if len(sess.Claims) == 0 {
		return nil
	}

	released := map[string]bool{}
	for _, def := range defs {
		if !slices.Contains(granted, def.Name) {
			continue
		}
		for _, name := range def.Claims {
			released[name] = true
		}
	}
	if len(released) == 0 {
		return nil
	}

	out := map[string]any{}
	for name, value := range sess.Claims {
		if released[name] {
			out[name] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// redirectError delivers a protocol error through the validated redirect
// URI. Non-redirectable errors fall back to the HTML page.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, vc *validate.Context, oerr *oidcerr.Error) {
	h.deps.Metrics.EndpointError("authorize", string(oerr.Code))
	if !oerr.IsRedirectable() || vc.Request.RedirectURI() == "" {
		h.renderAuthorizeErrorPage(w, oerr)
		return
	}

	params := url.Values{}
	params.Set("error", string(oerr.Code))
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	if state := vc.Request.State(); state != "" {
		params.Set("state", state)
	}
	params.Set("iss", h.cfg.Issuer)

	h.deliverResponse(w, r, vc, params)
}

// deliverResponse sends authorization response parameters in the
// request's effective response mode, wrapping them in a JARM response
// object for the jwt modes.
func (h *Handler) deliverResponse(w http.ResponseWriter, r *http.Request, vc *validate.Context, params url.Values) {
	mode := effectiveResponseMode(vc.Request)

	base := mode
	if jwtBase, ok := jarmBaseMode(mode, vc.Request.ResponseType()); ok {
		token, err := h.deps.Issuer.JARMResponse(vc.Client, params)
		if err != nil {
			logger.Errorw("response object signing failed", "client_id", vc.Client.ID, "error", err)
			h.renderAuthorizeErrorPage(w, oidcerr.ServerError(oidcerr.StageProcess))
			return
		}
		params = url.Values{"response": {token}}
		base = jwtBase
	}

	redirectURI := vc.Request.RedirectURI()
	switch base {
	case oauth.ResponseModeFragment:
		http.Redirect(w, r, redirectURI+"#"+params.Encode(), http.StatusFound)
	case oauth.ResponseModeFormPost:
		h.renderFormPost(w, redirectURI, params)
	default:
		u, err := url.Parse(redirectURI)
		if err != nil {
			h.renderAuthorizeErrorPage(w, oidcerr.Invalid("redirect_uri is malformed"))
			return
		}
		q := u.Query()
		for k := range params {
			q.Set(k, params.Get(k))
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

// effectiveResponseMode resolves the default mode: query for pure code
// responses, fragment whenever the response carries tokens.
func effectiveResponseMode(req *request.Request) string {
	if mode := req.ResponseMode(); mode != "" {
		return mode
	}
	for _, tok := range strings.Fields(req.ResponseType()) {
		if tok == "token" || tok == "id_token" {
			return oauth.ResponseModeFragment
		}
	}
	return oauth.ResponseModeQuery
}

// jarmBaseMode maps a jwt response mode to the mode the response object
// travels in (JARM §2.3). The bare "jwt" mode follows the default for
// the response type.
func jarmBaseMode(mode, responseType string) (string, bool) {
	switch mode {
	case oauth.ResponseModeQueryJWT:
		return oauth.ResponseModeQuery, true
	case oauth.ResponseModeFragmentJWT:
		return oauth.ResponseModeFragment, true
	case oauth.ResponseModeFormPostJWT:
		return oauth.ResponseModeFormPost, true
	case oauth.ResponseModeJWT:
		for _, tok := range strings.Fields(responseType) {
			if tok == "token" || tok == "id_token" {
				return oauth.ResponseModeFragment, true
			}
		}
		return oauth.ResponseModeQuery, true
	}
	return "", false
}

func originOf(rawURI string) string {
	u, err := url.Parse(rawURI)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func expiresIn(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return strconv.FormatInt(secs, 10)
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submitting...</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{- end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

type formField struct{ Name, Value string }

// renderFormPost delivers the response as an auto-submitting form
// (OAuth form_post response mode).
func (h *Handler) renderFormPost(w http.ResponseWriter, action string, params url.Values) {
	fields := make([]formField, 0, len(params))
	for name := range params {
		fields = append(fields, formField{Name: name, Value: params.Get(name)})
	}
	slices.SortFunc(fields, func(a, b formField) int { return strings.Compare(a.Name, b.Name) })

	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'; form-action "+originOf(action))
	_ = formPostTemplate.Execute(w, map[string]any{"Action": action, "Fields": fields})
}

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Error</title></head>
<body>
<h1>Authorization Error</h1>
<p><strong>{{.Code}}</strong>{{if .Description}}: {{.Description}}{{end}}</p>
</body>
</html>
`))

// renderAuthorizeError renders the pre-redirect HTML error page and
// counts the error.
func (h *Handler) renderAuthorizeError(w http.ResponseWriter, oerr *oidcerr.Error) {
	h.deps.Metrics.EndpointError("authorize", string(oerr.Code))
	h.renderAuthorizeErrorPage(w, oerr)
}

func (h *Handler) renderAuthorizeErrorPage(w http.ResponseWriter, oerr *oidcerr.Error) {
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	w.WriteHeader(oerr.StatusCode())
	_ = errorPageTemplate.Execute(w, map[string]string{
		"Code":        string(oerr.Code),
		"Description": oerr.Description,
	})
}
