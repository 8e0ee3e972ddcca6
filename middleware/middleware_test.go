package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
	"github.com/lukaszraczylo/oidcsession/internal/revocation"
	"github.com/lukaszraczylo/oidcsession/internal/testutil/fixtures"
	"github.com/lukaszraczylo/oidcsession/permissions"
	"github.com/lukaszraczylo/oidcsession/roles"
	"github.com/lukaszraczylo/oidcsession/session"
	"github.com/lukaszraczylo/oidcsession/token"
)

type stubExchanger struct {
	calls int32
	resp  *token.Response
	err   error
}

func (s *stubExchanger) Refresh(context.Context, string) (*token.Response, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.resp, s.err
}

type harness struct {
	t       *testing.T
	store   *session.Store
	ex      *stubExchanger
	revoked *revocation.Memory
	auth    *Authenticator
	tokens  *fixtures.TokenFixture
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := session.NewStore("0123456789abcdef0123456789abcdef", session.Options{}, nil)
	require.NoError(t, err)
	ex := &stubExchanger{}
	revoked := revocation.NewMemory()
	machine := token.NewMachine(ex, token.DefaultConfig(), nil)
	return &harness{
		t:       t,
		store:   store,
		ex:      ex,
		revoked: revoked,
		auth:    NewAuthenticator(store, machine, roles.DefaultTable(), revoked, "", nil),
		tokens:  fixtures.MustTokenFixture(t, "https://sso.example.com/realms/acme", "web"),
	}
}

func (h *harness) accessToken(g fixtures.Grants) string {
	tok, err := h.tokens.AccessToken(g, time.Hour)
	require.NoError(h.t, err)
	return tok
}

// request returns a request carrying the cookies of a saved record.
func (h *harness) request(rec *session.Record, path string) *http.Request {
	w := httptest.NewRecorder()
	require.NoError(h.t, h.store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), rec))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func (h *harness) record(set token.Set, held ...roles.Role) *session.Record {
	rec := session.NewRecord(time.Now())
	rec.Tokens = set
	rec.SetRoles(held)
	return rec
}

func ajax(req *http.Request) *http.Request {
	req.Header.Set("Accept", "application/json")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// capture records what the wrapped handler saw.
type capture struct {
	called bool
	rec    *session.Record
	sv     session.View
	pv     permissions.View
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.rec, _ = RecordFrom(r.Context())
		c.sv, _ = SessionFrom(r.Context())
		c.pv, _ = PermissionsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireSession_NoSessionRedirectsBrowser(t *testing.T) {
	h := newHarness(t)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard?tab=1", nil))

	assert.False(t, c.called)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login?returnTo=%2Fdashboard%3Ftab%3D1", w.Header().Get("Location"))
}

func TestRequireSession_NoSessionAjax(t *testing.T) {
	h := newHarness(t)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, ajax(httptest.NewRequest(http.MethodGet, "/api/x", nil)))

	assert.False(t, c.called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"])
}

func TestRequireSession_FreshSkipsRefresh(t *testing.T) {
	h := newHarness(t)
	access := h.accessToken(fixtures.Grants{
		RealmRoles: []string{"offline_access"},
		Resources:  map[string][]string{"app": {"managers"}},
		Groups:     []string{"employees"},
	})
	rec := h.record(token.Set{
		AccessToken:  access,
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}, roles.Manager)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, h.request(rec, "/dashboard"))

	require.True(t, c.called)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.ex.calls))
	assert.Empty(t, w.Result().Cookies(), "unchanged session is not rewritten")
	assert.Equal(t, access, c.sv.AccessToken)
	assert.Equal(t, []roles.Role{roles.Employee, roles.Manager}, c.pv.NormalizedRoles)
	assert.Equal(t, roles.Manager, c.pv.HighestRole())
	assert.Equal(t, []string{"offline_access", "managers"}, c.pv.AllPermissions)
	require.NotNil(t, c.sv.TokenPayload)
	assert.Equal(t, "test-subject", c.sv.TokenPayload.Sub)
}

func TestRequireSession_StaleRefreshes(t *testing.T) {
	h := newHarness(t)
	newAccess := h.accessToken(fixtures.Grants{RealmRoles: []string{"admin"}})
	h.ex.resp = &token.Response{AccessToken: newAccess, ExpiresIn: 5 * time.Minute}
	rec := h.record(token.Set{
		AccessToken:  "old-access",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}, roles.Employee)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, h.request(rec, "/dashboard"))

	require.True(t, c.called)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.ex.calls))
	assert.Equal(t, newAccess, c.rec.Tokens.AccessToken)
	assert.Equal(t, "rt", c.rec.Tokens.RefreshToken)
	assert.Equal(t, []string{"admin"}, c.rec.Roles)
	assert.NotEmpty(t, w.Result().Cookies(), "refreshed session is persisted")

	// the persisted cookies carry the refreshed token
	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge >= 0 {
			next.AddCookie(ck)
		}
	}
	stored, err := h.store.Load(next)
	require.NoError(t, err)
	assert.Equal(t, newAccess, stored.Tokens.AccessToken)
}

func TestRequireSession_InvalidGrant(t *testing.T) {
	h := newHarness(t)
	h.ex.err = fmt.Errorf("%w: Token is not active", token.ErrInvalidGrant)
	rec := h.record(token.Set{
		AccessToken:  "old",
		RefreshToken: "rt",
		IDToken:      "id",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}, roles.Employee)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, ajax(h.request(rec, "/api/leave")))

	assert.False(t, c.called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ReauthenticationRequired", decodeError(t, w)["error"])

	destroyed := false
	for _, ck := range w.Result().Cookies() {
		if ck.Name == session.DefaultCookieName && ck.MaxAge < 0 {
			destroyed = true
		}
	}
	assert.True(t, destroyed)
}

func TestRequireSession_InvalidGrantBrowserRedirects(t *testing.T) {
	h := newHarness(t)
	h.ex.err = token.ErrInvalidGrant
	rec := h.record(token.Set{AccessToken: "old", RefreshToken: "rt", ExpiresAt: 1})

	w := httptest.NewRecorder()
	h.auth.RequireSession(http.NotFoundHandler()).ServeHTTP(w, h.request(rec, "/reports"))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/auth/login")
}

func TestRequireSession_TransientKeepsLastToken(t *testing.T) {
	h := newHarness(t)
	h.ex.err = errors.New("connection reset by peer")
	rec := h.record(token.Set{
		AccessToken:  "last-known",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}, roles.Manager)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, h.request(rec, "/dashboard"))

	require.True(t, c.called)
	assert.Equal(t, "last-known", c.sv.AccessToken)
	assert.Equal(t, token.RefreshAccessTokenError, c.sv.Error)
	assert.Equal(t, "rt", c.rec.Tokens.RefreshToken)
	assert.Equal(t, string(token.RefreshAccessTokenError), c.pv.Error)
	assert.Equal(t, []roles.Role{roles.Manager}, c.pv.NormalizedRoles, "opaque token falls back to issued roles")
}

func TestRequireSession_Revoked(t *testing.T) {
	h := newHarness(t)
	rec := h.record(token.Set{AccessToken: "a", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, h.revoked.Revoke(context.Background(), rec.ID, time.Hour))
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(c.handler()).ServeHTTP(w, ajax(h.request(rec, "/api/x")))

	assert.False(t, c.called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SESSION_REVOKED", decodeError(t, w)["error"].(map[string]any)["code"])
}

func TestResolve_TamperedCookieIsNoSession(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "garbage"})

	rec, err := h.auth.Resolve(httptest.NewRecorder(), req)
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRequireRole(t *testing.T) {
	h := newHarness(t)
	rec := h.record(token.Set{AccessToken: "opaque", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour).Unix()}, roles.Manager)

	serve := func(required ...roles.Role) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.auth.RequireSession(RequireRole(required...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))).ServeHTTP(w, ajax(h.request(rec, "/api/x")))
		return w
	}

	assert.Equal(t, http.StatusOK, serve(roles.Employee).Code, "manager satisfies employee")
	assert.Equal(t, http.StatusOK, serve(roles.Admin, roles.Manager).Code)

	w := serve(roles.Admin)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w)["error"].(map[string]any)["code"])
}

func TestRequireRole_WithoutSession(t *testing.T) {
	w := httptest.NewRecorder()
	RequireRole(roles.Employee)(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole_ThinRefreshKeepsIssuedRoles(t *testing.T) {
	h := newHarness(t)
	thin := h.accessToken(fixtures.Grants{})
	h.ex.resp = &token.Response{AccessToken: thin, ExpiresIn: 5 * time.Minute}
	rec := h.record(token.Set{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}, roles.Employee, roles.Manager)
	var c capture

	w := httptest.NewRecorder()
	h.auth.RequireSession(RequireRole(roles.Manager)(c.handler())).ServeHTTP(w, ajax(h.request(rec, "/api/approvals")))

	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, c.called)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.ex.calls))
	assert.Equal(t, thin, c.sv.AccessToken)
	assert.True(t, c.pv.HasRole(roles.Manager))
	assert.Equal(t, []roles.Role{roles.Employee, roles.Manager}, c.pv.NormalizedRoles)
}

func TestBearerTransport(t *testing.T) {
	var gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer backend.Close()

	client := &http.Client{Transport: &BearerTransport{}}
	newReq := func(rec *session.Record) *http.Request {
		req, err := http.NewRequest(http.MethodGet, backend.URL, nil)
		require.NoError(t, err)
		if rec != nil {
			req = req.WithContext(WithSession(req.Context(), rec, session.View{}, permissions.View{}))
		}
		return req
	}

	resp, err := client.Do(newReq(&session.Record{ID: "s", Tokens: token.Set{AccessToken: "tok"}}))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Bearer tok", gotAuth)

	_, err = client.Do(newReq(nil))
	require.Error(t, err)
	assert.True(t, oidcerrors.HasCode(err, oidcerrors.ErrCodeUnauthorized))

	_, err = client.Do(newReq(&session.Record{ID: "s", Tokens: token.Set{RefreshToken: "rt"}}))
	require.Error(t, err)
	assert.True(t, oidcerrors.HasCode(err, oidcerrors.ErrCodeMissingAccessToken))
}

func TestIsAjaxRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, IsAjaxRequest(req))
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	assert.True(t, IsAjaxRequest(req))
}
