package handlers

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/lukaszraczylo/oidcsession/internal/provider"
	"github.com/lukaszraczylo/oidcsession/logout"
	"github.com/lukaszraczylo/oidcsession/middleware"
	"github.com/lukaszraczylo/oidcsession/session"
)

// FederatedLogout returns the provider end-session URL for the current
// cookie session as {"logoutUrl": string|null}. Bearer credentials are not
// consulted.
func (h *Handlers) FederatedLogout(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.Load(r)
	if err != nil || !federatable(rec) {
		writeJSON(w, http.StatusOK, map[string]any{"logoutUrl": nil})
		return
	}

	u, err := h.logoutURL(rec)
	if err != nil {
		h.logger.Errorf("Failed to build federated logout URL: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Federated logout unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logoutUrl": u})
}

// federatable reports whether rec can still end its provider session. A
// terminally failed refresh has already cleared the ID token, so the user
// only needs a local logout.
func federatable(rec *session.Record) bool {
	return rec.Authenticated() && !rec.Tokens.Error.Terminal() && rec.Tokens.IDToken != ""
}

func (h *Handlers) logoutURL(rec *session.Record) (string, error) {
	return h.Endpoints.LogoutURL(rec.Tokens.IDToken, h.opts.PostLogoutRedirectURL, h.opts.ClientID)
}

// Logout runs the logout protocol against the browser behind r. Browsers get
// a page that clears storage and replaces the location; XHR callers get the
// same instructions as JSON. Cross-site requests are refused.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		h.logger.Infof("Refused cross-site logout from %s", r.Header.Get("Origin"))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Cross-site logout refused"})
		return
	}

	rec, err := h.Store.Load(r)
	if err != nil {
		rec = &session.Record{}
	}

	source := logout.URLSourceFunc(func(context.Context) (string, error) {
		if !federatable(rec) {
			return "", nil
		}
		u, err := h.logoutURL(rec)
		if errors.Is(err, provider.ErrNoEndSession) {
			return "", nil
		}
		return u, err
	})
	invalidator := logout.InvalidatorFunc(func(ctx context.Context) error {
		h.Store.Destroy(w, r)
		if rec.Exists() && h.Revocations != nil {
			return h.Revocations.Revoke(ctx, rec.ID, h.opts.RevocationTTL)
		}
		return nil
	})

	b := newHTTPBrowser(w, r, h.secure(r))
	res := logout.NewCoordinator(source, invalidator, h.opts.Logout, h.logger).Logout(r.Context(), b)

	h.logger.WithFields(map[string]any{
		"session":   rec.ID,
		"federated": res.Federated,
		"fallback":  res.Fallback,
	}).Info("User logged out")

	if middleware.IsAjaxRequest(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"redirectTo": b.location,
			"federated":  res.Federated,
			"clearStorage": map[string][]string{
				logout.LocalStorage.String():   b.removals[logout.LocalStorage],
				logout.SessionStorage.String(): b.removals[logout.SessionStorage],
			},
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := bridgePage.Execute(w, bridgeData{
		Location:       b.location,
		LocalStorage:   b.removals[logout.LocalStorage],
		SessionStorage: b.removals[logout.SessionStorage],
		ForceLogin:     b.forceLogin,
	}); err != nil {
		h.logger.Errorf("Failed to render logout page: %v", err)
	}
}

// httpBrowser adapts one HTTP exchange to logout.Browser. Cookie expiry is
// sent as Set-Cookie headers; storage removal and navigation are delivered
// in the response body.
type httpBrowser struct {
	w          http.ResponseWriter
	r          *http.Request
	secure     bool
	seen       map[string]bool
	removals   map[logout.StorageArea][]string
	forceLogin bool
	location   string
}

func newHTTPBrowser(w http.ResponseWriter, r *http.Request, secure bool) *httpBrowser {
	return &httpBrowser{
		w:      w,
		r:      r,
		secure: secure,
		seen:   map[string]bool{},
		removals: map[logout.StorageArea][]string{
			logout.LocalStorage:   {},
			logout.SessionStorage: {},
		},
	}
}

func (b *httpBrowser) CookieNames() []string {
	cookies := b.r.Cookies()
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}

func (b *httpBrowser) RemoveItem(area logout.StorageArea, key string) error {
	for _, k := range b.removals[area] {
		if k == key {
			return nil
		}
	}
	b.removals[area] = append(b.removals[area], key)
	return nil
}

// ExpireCookie emits one Set-Cookie per distinct serialized cookie.
func (b *httpBrowser) ExpireCookie(c logout.Cookie) error {
	header := (&http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}).String()
	if header == "" {
		return errors.New("invalid cookie name " + c.Name)
	}
	if !b.seen[header] {
		b.seen[header] = true
		b.w.Header().Add("Set-Cookie", header)
	}
	return nil
}

func (b *httpBrowser) Hostname() string {
	host, _, err := net.SplitHostPort(b.r.Host)
	if err != nil {
		return b.r.Host
	}
	return host
}

func (b *httpBrowser) SetForceLogin() error {
	if b.forceLogin {
		return nil
	}
	b.forceLogin = true
	http.SetCookie(b.w, &http.Cookie{
		Name:     ForceLoginCookie,
		Value:    "1",
		Path:     "/",
		MaxAge:   int(forceLoginMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (b *httpBrowser) Replace(url string) error {
	b.location = url
	return nil
}

func (b *httpBrowser) Navigate(url string) error {
	b.location = url
	return nil
}

type bridgeData struct {
	Location       string
	LocalStorage   []string
	SessionStorage []string
	ForceLogin     bool
}

var bridgePage = template.Must(template.New("logout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Signing out</title>
</head>
<body>
<p>Signing out&hellip;</p>
<noscript><a href="{{.Location}}">Continue</a></noscript>
<script>
(function () {
  var local = {{.LocalStorage}}, session = {{.SessionStorage}};
  local.forEach(function (k) { try { window.localStorage.removeItem(k); } catch (e) {} });
  session.forEach(function (k) { try { window.sessionStorage.removeItem(k); } catch (e) {} });
  {{if .ForceLogin}}try { window.sessionStorage.setItem("force_login", "true"); } catch (e) {}{{end}}
  window.location.replace({{.Location}});
})();
</script>
</body>
</html>
`))
