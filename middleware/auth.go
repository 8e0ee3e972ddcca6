package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/lukaszraczylo/oidcsession/claims"
	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
	"github.com/lukaszraczylo/oidcsession/internal/logger"
	"github.com/lukaszraczylo/oidcsession/internal/revocation"
	"github.com/lukaszraczylo/oidcsession/permissions"
	"github.com/lukaszraczylo/oidcsession/roles"
	"github.com/lukaszraczylo/oidcsession/session"
	"github.com/lukaszraczylo/oidcsession/token"
)

// ErrSessionRevoked is returned by Resolve for a session ended by logout.
var ErrSessionRevoked = oidcerrors.New(oidcerrors.ErrCodeSessionRevoked, "session has been logged out")

// Authenticator resolves the session of each request.
type Authenticator struct {
	store       *session.Store
	machine     *token.Machine
	mapper      roles.Mapper
	revocations revocation.Store
	loginPath   string
	logger      logger.Logger
}

// NewAuthenticator creates an Authenticator. revocations may be nil.
func NewAuthenticator(store *session.Store, machine *token.Machine, mapper roles.Mapper, revocations revocation.Store, loginPath string, log logger.Logger) *Authenticator {
	if loginPath == "" {
		loginPath = "/auth/login"
	}
	return &Authenticator{
		store:       store,
		machine:     machine,
		mapper:      mapper,
		revocations: revocations,
		loginPath:   loginPath,
		logger:      logger.OrNoOp(log),
	}
}

// Resolve loads the request's session and runs the refresh check, saving the
// record when its tokens changed. It returns a nil record when there is no
// usable session.
//
// A terminal refresh failure returns the cleared, flagged record together
// with token.ErrReauthenticationRequired. A transient failure is logged and
// the record keeps its last-known access token with the error flag set.
func (a *Authenticator) Resolve(w http.ResponseWriter, r *http.Request) (*session.Record, error) {
	rec, err := a.store.Load(r)
	if err != nil {
		a.logger.Debugf("Ignoring unreadable session: %v", err)
		return nil, nil
	}
	if !rec.Authenticated() {
		return nil, nil
	}

	if a.revocations != nil {
		revoked, err := a.revocations.IsRevoked(r.Context(), rec.ID)
		if err != nil {
			a.logger.Errorf("Revocation check failed, allowing session: %v", err)
		} else if revoked {
			a.logger.WithField("session", rec.ID).Info("Rejected revoked session")
			a.store.Destroy(w, r)
			return nil, ErrSessionRevoked
		}
	}

	before := rec.Tokens
	set, err := a.machine.Authorize(r.Context(), rec.ID, rec.Tokens)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rec, err
	}

	if set != before {
		rec.Tokens = set
		rec.UpdateRoles(claims.MergeTokens(set.AccessToken, set.IDToken), a.mapper)
		if saveErr := a.store.Save(w, r, rec); saveErr != nil {
			a.logger.Errorf("Failed to persist refreshed session: %v", saveErr)
		}
	}

	switch {
	case errors.Is(err, token.ErrReauthenticationRequired):
		return rec, err
	case err != nil:
		a.logger.WithField("session", rec.ID).Infof("Continuing with last known token: %v", err)
	}
	return rec, nil
}

// Views derives the session and authorization views of rec.
func (a *Authenticator) Views(rec *session.Record) (session.View, permissions.View) {
	c := claims.MergeTokens(rec.Tokens.AccessToken, rec.Tokens.IDToken)
	sv := session.Project(rec, c)
	pv := permissions.NewView(c, rec.NormalizedRoles(), a.mapper)
	if rec.Tokens.Error != token.NoError {
		pv = pv.WithError(string(rec.Tokens.Error))
	}
	return sv, pv
}

// RequireSession lets the request through only with a usable session.
// Browsers are redirected to the login page; API callers get a 401 JSON body.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := a.Resolve(w, r)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		case errors.Is(err, token.ErrReauthenticationRequired):
			a.store.Destroy(w, r)
			a.reject(w, r, string(token.ReauthenticationRequired), err)
			return
		case err != nil:
			a.reject(w, r, "", err)
			return
		case rec == nil:
			a.reject(w, r, "", oidcerrors.New(oidcerrors.ErrCodeUnauthorized, "Authentication required"))
			return
		}

		sv, pv := a.Views(rec)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), rec, sv, pv)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, kind string, err error) {
	if IsAjaxRequest(r) {
		if kind != "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": kind})
			return
		}
		WriteError(w, err)
		return
	}

	target := a.loginPath
	if r.Method == http.MethodGet {
		target += "?returnTo=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// RequireRole rejects requests whose authorization view satisfies none of
// required with 403. It must run inside RequireSession.
func RequireRole(required ...roles.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pv, ok := PermissionsFrom(r.Context())
			if !ok {
				WriteError(w, oidcerrors.New(oidcerrors.ErrCodeUnauthorized, "Authentication required"))
				return
			}
			if !pv.HasAnyRole(required...) {
				WriteError(w, oidcerrors.NewForbiddenError(roles.Strings(required)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsAjaxRequest reports whether the caller expects JSON rather than a page.
func IsAjaxRequest(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

// WriteError writes err as the standard JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	oidcErr, ok := oidcerrors.AsOIDCError(err)
	if !ok {
		oidcErr = oidcerrors.Wrap(oidcerrors.ErrCodeUnauthorized, "Authentication required", err)
	}
	writeJSON(w, oidcerrors.GetHTTPStatus(oidcErr), oidcErr.ToJSON())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
