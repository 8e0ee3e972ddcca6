package logout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowser records every call in order.
type fakeBrowser struct {
	mu          sync.Mutex
	cookies     map[string]bool
	storage     map[StorageArea]map[string]string
	host        string
	events      []string
	expired     []Cookie
	failRemove  bool
	panicRemove bool
	failReplace bool
	forceLogin  bool
	location    string
}

func newFakeBrowser(cookieNames ...string) *fakeBrowser {
	b := &fakeBrowser{
		cookies: map[string]bool{},
		storage: map[StorageArea]map[string]string{
			LocalStorage:   {"access_token": "x", "theme": "dark"},
			SessionStorage: {"id_token": "y"},
		},
		host: "app.example.com",
	}
	for _, n := range cookieNames {
		b.cookies[n] = true
	}
	return b
}

func (b *fakeBrowser) record(e string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBrowser) CookieNames() []string {
	names := make([]string, 0, len(b.cookies))
	for n := range b.cookies {
		names = append(names, n)
	}
	return names
}

func (b *fakeBrowser) RemoveItem(area StorageArea, key string) error {
	if b.panicRemove {
		panic("storage access denied")
	}
	if b.failRemove {
		return errors.New("storage disabled")
	}
	delete(b.storage[area], key)
	return nil
}

func (b *fakeBrowser) ExpireCookie(c Cookie) error {
	b.record("expire:" + c.Name)
	b.expired = append(b.expired, c)
	delete(b.cookies, c.Name)
	return nil
}

func (b *fakeBrowser) Hostname() string { return b.host }

func (b *fakeBrowser) SetForceLogin() error {
	b.record("force-login")
	b.forceLogin = true
	return nil
}

func (b *fakeBrowser) Replace(url string) error {
	b.record("replace:" + url)
	if b.failReplace {
		return errors.New("navigation blocked")
	}
	b.location = url
	return nil
}

func (b *fakeBrowser) Navigate(url string) error {
	b.record("navigate:" + url)
	b.location = url
	return nil
}

func (b *fakeBrowser) index(prefix string) int {
	for i, e := range b.events {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

const providerLogout = "https://idp.example.com/realms/r/protocol/openid-connect/logout?id_token_hint=x"

func TestLogout_FederatedURL(t *testing.T) {
	b := newFakeBrowser("_oidc_session", "_oidc_session_a_0", "theme")
	src := URLSourceFunc(func(context.Context) (string, error) {
		b.record("fetch")
		return providerLogout, nil
	})
	inv := InvalidatorFunc(func(context.Context) error {
		b.record("invalidate")
		// invalidation may set cookies again
		b.cookies["_oidc_session"] = true
		return nil
	})

	res := NewCoordinator(src, inv, Config{}, nil).Logout(context.Background(), b)

	assert.Equal(t, providerLogout, res.Destination)
	assert.True(t, res.Federated)
	assert.False(t, res.Fallback)
	assert.NoError(t, res.Err())
	assert.Equal(t, providerLogout, b.location)
	assert.True(t, b.forceLogin)

	fetch, invalidate, replace := b.index("fetch"), b.index("invalidate"), b.index("replace:")
	require.NotEqual(t, -1, invalidate)
	assert.Less(t, b.index("expire:"), fetch, "cookies are cleared before fetching")
	assert.Less(t, fetch, invalidate)
	assert.Less(t, invalidate, replace)
	assert.Less(t, b.index("force-login"), replace)

	// the cookie re-set by invalidation is cleared again before navigating
	lastExpire := -1
	for i, e := range b.events {
		if e == "expire:_oidc_session" {
			lastExpire = i
		}
	}
	assert.Greater(t, lastExpire, invalidate)
	assert.Less(t, lastExpire, replace)

	assert.NotContains(t, b.storage[LocalStorage], "access_token")
	assert.NotContains(t, b.storage[SessionStorage], "id_token")
	assert.Equal(t, "dark", b.storage[LocalStorage]["theme"])
	assert.True(t, b.cookies["theme"])
}

func TestLogout_FetchFailureNavigatesToLogin(t *testing.T) {
	b := newFakeBrowser("_oidc_session")
	invalidated := false
	src := URLSourceFunc(func(context.Context) (string, error) {
		return "", errors.New("connection refused")
	})
	inv := InvalidatorFunc(func(context.Context) error {
		invalidated = true
		return nil
	})

	var res Result
	assert.NotPanics(t, func() {
		res = NewCoordinator(src, inv, Config{LoginPath: "/login"}, nil).Logout(context.Background(), b)
	})

	assert.Equal(t, "/login", res.Destination)
	assert.False(t, res.Federated)
	assert.False(t, res.Fallback)
	assert.True(t, invalidated)
	assert.Equal(t, "/login", b.location)
	assert.True(t, b.forceLogin)
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "connection refused")
}

func TestLogout_EmptyURLMeansNoFederation(t *testing.T) {
	b := newFakeBrowser()
	src := URLSourceFunc(func(context.Context) (string, error) { return "", nil })

	res := NewCoordinator(src, nil, Config{}, nil).Logout(context.Background(), b)

	assert.Equal(t, DefaultLoginPath, res.Destination)
	assert.NoError(t, res.Err())
}

func TestLogout_Idempotent(t *testing.T) {
	b := newFakeBrowser("_oidc_session", "KEYCLOAK_IDENTITY")
	c := NewCoordinator(URLSourceFunc(func(context.Context) (string, error) {
		return providerLogout, nil
	}), nil, Config{}, nil)

	first := c.Logout(context.Background(), b)
	assert.Empty(t, b.cookies)

	var second Result
	assert.NotPanics(t, func() { second = c.Logout(context.Background(), b) })
	assert.Equal(t, first.Destination, second.Destination)
	assert.NoError(t, second.Err())
}

func TestLogout_StorageFailuresIgnored(t *testing.T) {
	b := newFakeBrowser()
	b.failRemove = true

	res := NewCoordinator(nil, nil, Config{}, nil).Logout(context.Background(), b)

	assert.NoError(t, res.Err())
	assert.Equal(t, DefaultLoginPath, b.location)
}

func TestLogout_ReplaceFailureFallsBack(t *testing.T) {
	b := newFakeBrowser("_oidc_session")
	b.failReplace = true
	src := URLSourceFunc(func(context.Context) (string, error) { return providerLogout, nil })

	res := NewCoordinator(src, nil, Config{}, nil).Logout(context.Background(), b)

	assert.True(t, res.Fallback)
	assert.False(t, res.Federated)
	assert.Equal(t, DefaultLoginPath, res.Destination)
	assert.Equal(t, DefaultLoginPath, b.location)
	assert.Greater(t, b.index("navigate:"), b.index("replace:"))
	assert.Error(t, res.Err())
}

func TestLogout_PanicFallsBack(t *testing.T) {
	b := newFakeBrowser("_oidc_session")
	inv := InvalidatorFunc(func(context.Context) error {
		b.cookies["_oidc_session"] = true
		panic("boom")
	})

	var res Result
	assert.NotPanics(t, func() {
		res = NewCoordinator(nil, inv, Config{}, nil).Logout(context.Background(), b)
	})

	assert.True(t, res.Fallback)
	assert.Equal(t, DefaultLoginPath, res.Destination)
	assert.Equal(t, "navigate:"+DefaultLoginPath, b.events[len(b.events)-1])
	assert.NotContains(t, b.cookies, "_oidc_session")
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "boom")
}

func TestLogout_PanickingStorageStillNavigates(t *testing.T) {
	b := newFakeBrowser("_oidc_session")
	b.panicRemove = true
	src := URLSourceFunc(func(context.Context) (string, error) { return providerLogout, nil })

	var res Result
	assert.NotPanics(t, func() {
		res = NewCoordinator(src, nil, Config{}, nil).Logout(context.Background(), b)
	})

	assert.True(t, res.Fallback)
	assert.False(t, res.Federated)
	assert.Equal(t, DefaultLoginPath, res.Destination)
	assert.Equal(t, DefaultLoginPath, b.location)
	assert.True(t, b.forceLogin)
	assert.NotContains(t, b.cookies, "_oidc_session")
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "storage access denied")
}

func TestLogout_CookieCombinations(t *testing.T) {
	b := newFakeBrowser("Keycloak_Session", "unrelated")

	NewCoordinator(nil, nil, Config{}, nil).Logout(context.Background(), b)

	// paths x domains x SameSite x Secure, first clearing pass only
	assert.Len(t, b.expired, 3*3*2*2)
	seen := map[Cookie]bool{}
	for _, c := range b.expired {
		assert.Equal(t, "Keycloak_Session", c.Name)
		seen[c] = true
	}
	assert.Len(t, seen, 36)
	assert.True(t, seen[Cookie{Name: "Keycloak_Session", Path: "/api/auth", Domain: ".app.example.com", SameSite: http.SameSiteStrictMode, Secure: true}])
	assert.True(t, seen[Cookie{Name: "Keycloak_Session", Path: "/", Domain: "", SameSite: http.SameSiteLaxMode}])
	assert.True(t, b.cookies["unrelated"])
}

func TestCombinations_NoHostname(t *testing.T) {
	got := Combinations("c", "", []string{"/"})
	assert.Len(t, got, 4)
	for _, c := range got {
		assert.Empty(t, c.Domain)
	}
}
