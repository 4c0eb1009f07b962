// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// EndSession handles RP-initiated logout. After validation the server
// ends the browser session, notifies the session's relying parties and
// either redirects to the validated post_logout_redirect_uri or renders
// a confirmation page.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := request.FromHTTP(r)
	if err != nil {
		h.renderAuthorizeErrorPage(w, oidcerr.Invalid("malformed request"))
		return
	}

	lr, oerr := h.deps.Logout.Validate(ctx, params)
	if oerr != nil {
		h.deps.Metrics.EndpointError("endsession", string(oerr.Code))
		h.renderAuthorizeErrorPage(w, oerr)
		return
	}

	// Without an id_token_hint the browser's own session is the target.
	sid := lr.SessionID
	if sid == "" && h.deps.Authorizer != nil {
		if sess := h.deps.Authorizer.Session(r); sess != nil {
			sid = sess.SessionID
		}
	}

	var frontChannel []string
	if sid != "" {
		sess, err := h.deps.Sessions.End(ctx, sid)
		if err != nil {
			logger.Debugw("ending session failed", "sid", sid, "error", err)
		} else {
			frontChannel = h.deps.Logout.FrontChannelURIs(ctx, sess)
			h.deps.Logout.NotifyBackchannel(ctx, sess)
		}
	}

	redirect := lr.RedirectURI()
	if len(frontChannel) == 0 && redirect != "" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	renderLogoutPage(w, frontChannel, redirect)
}

var logoutPageTemplate = template.Must(template.New("logout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Signed out</title>
{{- if .Redirect}}
<meta http-equiv="refresh" content="2;url={{.Redirect}}">
{{- end}}
</head>
<body>
<p>You have been signed out.</p>
{{- range .IFrames}}
<iframe src="{{.}}" style="display:none" width="0" height="0"></iframe>
{{- end}}
{{- if .Redirect}}
<p><a href="{{.Redirect}}">Continue</a></p>
{{- end}}
</body>
</html>
`))

// renderLogoutPage shows the confirmation page with hidden front-channel
// logout iframes. The meta refresh gives the iframes time to load before
// the browser leaves for the post-logout redirect.
func renderLogoutPage(w http.ResponseWriter, iframes []string, redirect string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = logoutPageTemplate.Execute(w, struct {
		IFrames  []string
		Redirect string
	}{IFrames: iframes, Redirect: redirect})
}

// checkSessionPage implements the OP iframe of OIDC Session Management
// §4.2. The RP posts "client_id space session_state"; the iframe hashes
// the current browser state cookie the same way the server did when it
// minted session_state and answers changed/unchanged.
const checkSessionPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Check Session</title></head>
<body>
<script>
var COOKIE = %q;

function readBrowserState() {
  var pairs = document.cookie.split(";");
  for (var i = 0; i < pairs.length; i++) {
    var kv = pairs[i].trim().split("=");
    if (kv[0] === COOKIE) {
      return decodeURIComponent(kv.slice(1).join("="));
    }
  }
  return "";
}

function b64url(buf) {
  var bytes = new Uint8Array(buf);
  var s = "";
  for (var i = 0; i < bytes.length; i++) {
    s += String.fromCharCode(bytes[i]);
  }
  return btoa(s).replace(/\+/g, "-").replace(/\//g, "_").replace(/=+$/, "");
}

window.addEventListener("message", function (e) {
  var parts = (typeof e.data === "string") ? e.data.split(" ") : [];
  if (parts.length !== 2) {
    e.source.postMessage("error", e.origin);
    return;
  }
  var clientID = parts[0];
  var sessionState = parts[1];
  var dot = sessionState.lastIndexOf(".");
  if (dot < 0) {
    e.source.postMessage("error", e.origin);
    return;
  }
  var hash = sessionState.substring(0, dot);
  var salt = sessionState.substring(dot + 1);
  var input = clientID + " " + e.origin + " " + readBrowserState() + " " + salt;
  crypto.subtle.digest("SHA-256", new TextEncoder().encode(input)).then(function (digest) {
    var state = (b64url(digest) === hash) ? "unchanged" : "changed";
    e.source.postMessage(state, e.origin);
  }, function () {
    e.source.postMessage("error", e.origin);
  });
}, false);
</script>
</body>
</html>
`

// CheckSession serves the session-status iframe. The page is static per
// deployment and safe to cache.
func (h *Handler) CheckSession(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, checkSessionPage, h.deps.Sessions.CookieName())
}
