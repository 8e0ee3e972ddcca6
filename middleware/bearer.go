package middleware

import (
	"net/http"

	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
)

// BearerTransport attaches the session's access token to outgoing requests.
// The request context must come from RequireSession.
type BearerTransport struct {
	Base http.RoundTripper
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec, ok := RecordFrom(req.Context())
	if !ok {
		closeBody(req)
		return nil, oidcerrors.New(oidcerrors.ErrCodeUnauthorized, "Authentication required")
	}
	if rec.Tokens.AccessToken == "" {
		closeBody(req)
		return nil, oidcerrors.New(oidcerrors.ErrCodeMissingAccessToken, "Session has no access token")
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+rec.Tokens.AccessToken)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
