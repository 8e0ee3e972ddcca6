// Package logout tears down every piece of local credential state and sends
// the browser into the identity provider's own logout flow.
//
// Each step is best-effort. A failing step is recorded and the next one runs
// anyway, and Logout always ends with the browser navigated somewhere that
// requires a fresh login.
package logout

import (
	"context"
	"net/http"
)

// StorageArea selects browser local or session storage.
type StorageArea int

const (
	LocalStorage StorageArea = iota
	SessionStorage
)

func (a StorageArea) String() string {
	if a == SessionStorage {
		return "sessionStorage"
	}
	return "localStorage"
}

// Cookie identifies one attribute combination used to expire a cookie.
type Cookie struct {
	Name     string
	Path     string
	Domain   string
	SameSite http.SameSite
	Secure   bool
}

// Browser is the client-side state the coordinator tears down.
type Browser interface {
	// CookieNames lists the cookies visible to the current page.
	CookieNames() []string
	RemoveItem(area StorageArea, key string) error
	ExpireCookie(c Cookie) error
	Hostname() string
	// SetForceLogin marks the next login as requiring an explicit prompt.
	SetForceLogin() error
	// Replace navigates without leaving a history entry.
	Replace(url string) error
	// Navigate is the hard navigation used when everything else failed.
	Navigate(url string) error
}

// URLSource returns the federated logout URL. An empty URL means the identity
// provider logout is unavailable.
type URLSource interface {
	LogoutURL(ctx context.Context) (string, error)
}

// URLSourceFunc adapts a function to URLSource.
type URLSourceFunc func(ctx context.Context) (string, error)

func (f URLSourceFunc) LogoutURL(ctx context.Context) (string, error) { return f(ctx) }

// Invalidator ends the local session without redirecting.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context) error

func (f InvalidatorFunc) Invalidate(ctx context.Context) error { return f(ctx) }

// DefaultStorageKeys are the storage keys cleared from both storage areas.
var DefaultStorageKeys = []string{
	"oidc.session",
	"oidc.csrf",
	"auth_token",
	"access_token",
	"id_token",
	"refresh_token",
}

// DefaultCookiePatterns match authentication cookies by case-insensitive
// substring. The force-login flag cookie must not match any of them.
var DefaultCookiePatterns = []string{
	"_oidc_session",
	"oidcsession",
	"auth_token",
	"access_token",
	"keycloak",
}

// DefaultCookiePaths are the paths tried for every matching cookie.
var DefaultCookiePaths = []string{"/", "/api", "/api/auth"}

// DefaultLoginPath is the local login entry point.
const DefaultLoginPath = "/auth/login"

// Config tunes what the coordinator clears and where it falls back to.
type Config struct {
	StorageKeys    []string
	CookiePatterns []string
	CookiePaths    []string
	LoginPath      string
}

func (c Config) withDefaults() Config {
	if c.StorageKeys == nil {
		c.StorageKeys = DefaultStorageKeys
	}
	if c.CookiePatterns == nil {
		c.CookiePatterns = DefaultCookiePatterns
	}
	if c.CookiePaths == nil {
		c.CookiePaths = DefaultCookiePaths
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	return c
}
