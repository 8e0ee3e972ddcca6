package oidcsession

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/oidcsession/config"
	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
	"github.com/lukaszraczylo/oidcsession/internal/provider"
	"github.com/lukaszraczylo/oidcsession/internal/revocation"
	"github.com/lukaszraczylo/oidcsession/internal/testutil"
)

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, oidcerrors.HasCode(err, oidcerrors.ErrCodeConfigMissing))

	_, err = New(context.Background(), config.Defaults(), nil)
	require.Error(t, err)
	assert.True(t, oidcerrors.HasCode(err, oidcerrors.ErrCodeConfigMissing))
}

func TestDefaultHTTPClient(t *testing.T) {
	c := NewHTTPClient(DefaultHTTPClientConfig())
	assert.Equal(t, 30*time.Second, c.Timeout)
	require.NotNil(t, c.CheckRedirect)
	via := make([]*http.Request, 10)
	assert.Error(t, c.CheckRedirect(nil, via))
	assert.NoError(t, c.CheckRedirect(nil, via[:3]))
}

type ServiceSuite struct {
	testutil.KeycloakSuite
}

func TestServiceSuite(t *testing.T) {
	testutil.RunSuite(t, new(ServiceSuite))
}

func (s *ServiceSuite) config() *config.Config {
	cfg := config.Defaults()
	cfg.Issuer = s.Keycloak.Issuer()
	cfg.ClientID = testutil.TestClientID
	cfg.ClientSecret = "secret"
	cfg.SessionSecret = testutil.TestSessionSecret
	cfg.RedirectURL = "http://app.test/auth/callback"
	cfg.PostLogoutRedirectURL = "http://app.test/"
	return cfg
}

func (s *ServiceSuite) newService(cfg *config.Config, opts ...Option) *Service {
	opts = append([]Option{WithHTTPClient(s.Keycloak.Client())}, opts...)
	svc, err := New(context.Background(), cfg, nil, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = svc.Close() })
	return svc
}

// login walks the code flow and returns the session cookies.
func (s *ServiceSuite) login(h http.Handler) []*http.Cookie {
	w := s.Do(h, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	s.Require().Equal(http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+url.QueryEscape(loc.Query().Get("state")), nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	w = s.Do(h, req)
	s.Require().Equal(http.StatusFound, w.Code)

	var out []*http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *ServiceSuite) TestRoutes() {
	svc := s.newService(s.config())
	h := svc.Routes()

	w := s.Do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Equal("ok", w.Body.String())

	w = s.Do(h, httptest.NewRequest(http.MethodGet, "/auth/config", nil))
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"issuer":"`+s.Keycloak.Issuer()+`","clientId":"web"}`, w.Body.String())

	w = s.Do(h, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	s.Equal(http.StatusNotFound, w.Code)

	s.Equal(provider.Keycloak(s.Keycloak.Issuer()), svc.Endpoints())
}

func (s *ServiceSuite) TestLoginThroughRoutes() {
	svc := s.newService(s.config())
	h := svc.Routes()
	cookies := s.login(h)
	s.NotEmpty(cookies)
	s.Equal(1, s.Keycloak.CodeCalls())

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := s.Do(h, req)
	s.Contains(w.Body.String(), `"accessToken":"mock-access-token"`)
	s.NotContains(w.Body.String(), "mock-refresh-token")
}

func (s *ServiceSuite) TestRevokedSessionIsRejected() {
	s.RevocationsMock.On("IsRevoked", mock.Anything, mock.AnythingOfType("string")).Return(true, nil).Once()
	svc := s.newService(s.config(), WithRevocationStore(s.RevocationsMock))
	h := svc.Routes()
	cookies := s.login(h)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := s.Do(h, req)
	s.Equal("null", strings.TrimSpace(w.Body.String()))
	s.AssertMocksCalled()
}

func (s *ServiceSuite) TestDiscoverEndpoints() {
	cfg := s.config()
	cfg.DiscoverEndpoints = true
	svc := s.newService(cfg)
	s.Equal(provider.Keycloak(s.Keycloak.Issuer()), svc.Endpoints())
}

func (s *ServiceSuite) TestDiscoveryFailure() {
	cfg := s.config()
	cfg.Issuer = s.Keycloak.URL + "/realms/missing"
	cfg.DiscoverEndpoints = true
	_, err := New(context.Background(), cfg, nil, WithHTTPClient(s.Keycloak.Client()))
	s.Require().Error(err)
	s.True(oidcerrors.HasCode(err, oidcerrors.ErrCodeProviderUnreachable))
}

func (s *ServiceSuite) TestRedisRevocations() {
	mr := miniredis.RunT(s.T())
	cfg := s.config()
	cfg.Redis.Addr = mr.Addr()
	svc := s.newService(cfg)

	store, ok := svc.revocations.(*revocation.Redis)
	s.Require().True(ok)
	s.Require().NoError(store.Revoke(context.Background(), "sid", time.Hour))
	s.True(mr.Exists(DefaultRedisKeyPrefix + "sid"))
}

func (s *ServiceSuite) TestRedisUnavailable() {
	mr := miniredis.RunT(s.T())
	addr := mr.Addr()
	mr.Close()

	cfg := s.config()
	cfg.Redis.Addr = addr
	_, err := New(context.Background(), cfg, nil, WithHTTPClient(s.Keycloak.Client()))
	s.Error(err)
}

func (s *ServiceSuite) TestRoleMappings() {
	cfg := s.config()
	cfg.RoleMappings = map[string]string{"staff": "employee"}
	svc := s.newService(cfg)
	s.Equal("config", svc.roles.Current().Version())
	s.NoError(svc.ReloadRoles())
}

func (s *ServiceSuite) TestRoleMappingFileReload() {
	path := filepath.Join(s.T().TempDir(), "roles.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("version: v1\nmappings:\n  staff: employee\n"), 0o600))

	cfg := s.config()
	cfg.RoleMappingFile = path
	svc := s.newService(cfg)
	s.Equal("v1", svc.roles.Current().Version())

	s.Require().NoError(os.WriteFile(path, []byte("version: v2\nmappings:\n  bosses: manager\n"), 0o600))
	s.Require().NoError(svc.ReloadRoles())
	s.Equal("v2", svc.roles.Current().Version())

	s.Require().NoError(os.WriteFile(path, []byte("not: [valid"), 0o600))
	s.Error(svc.ReloadRoles())
	s.Equal("v2", svc.roles.Current().Version())
}

func (s *ServiceSuite) TestMissingRoleMappingFile() {
	cfg := s.config()
	cfg.RoleMappingFile = filepath.Join(s.T().TempDir(), "absent.yaml")
	_, err := New(context.Background(), cfg, nil, WithHTTPClient(s.Keycloak.Client()))
	s.Require().Error(err)
	s.True(oidcerrors.HasCode(err, oidcerrors.ErrCodeConfigInvalid))
}

func (s *ServiceSuite) TestBackendProxy() {
	var gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("backend"))
	}))
	defer backend.Close()

	cfg := s.config()
	cfg.BackendURL = backend.URL
	h := s.newService(cfg).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Accept", "application/json")
	w := s.Do(h, req)
	s.Equal(http.StatusUnauthorized, w.Code)

	cookies := s.login(h)
	req = httptest.NewRequest(http.MethodGet, "/api/items", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = s.Do(h, req)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("backend", w.Body.String())
	s.Equal("Bearer mock-access-token", gotAuth)
}

func (s *ServiceSuite) TestSecurityHeadersAndBreaker() {
	svc := s.newService(s.config())
	w := s.Do(svc.Routes(), httptest.NewRequest(http.MethodGet, "/auth/config", nil))
	s.Equal("DENY", w.Header().Get("X-Frame-Options"))
	s.Equal("nosniff", w.Header().Get("X-Content-Type-Options"))
	s.Equal("closed", svc.breaker.State().String())
}
