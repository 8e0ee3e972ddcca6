package handlers

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
	"github.com/lukaszraczylo/oidcsession/middleware"
)

// Proxy forwards authenticated requests to backend with the session's access
// token as the bearer credential. Session cookies are not forwarded.
func (h *Handlers) Proxy(backend *url.URL, transport http.RoundTripper) http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(backend)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
		},
		Transport: &middleware.BearerTransport{Base: transport},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if _, ok := oidcerrors.AsOIDCError(err); ok {
				middleware.WriteError(w, err)
				return
			}
			h.logger.Errorf("Backend request failed: %v", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return h.Auth.RequireSession(rp)
}
