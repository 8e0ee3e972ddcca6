package logout

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/lukaszraczylo/oidcsession/internal/logger"
)

// Result describes how a logout ended.
type Result struct {
	// Destination is where the browser was sent. It is never empty.
	Destination string
	// Federated is true when Destination is the identity provider logout URL.
	Federated bool
	// Fallback is true when the recovery path ran.
	Fallback bool
	// Errors collects every step failure. Logout still succeeded.
	Errors *multierror.Error
}

// Err returns the collected step failures, or nil.
func (r Result) Err() error { return r.Errors.ErrorOrNil() }

// Coordinator runs the logout protocol for one session.
type Coordinator struct {
	source      URLSource
	invalidator Invalidator
	cfg         Config
	logger      logger.Logger
}

// NewCoordinator creates a coordinator. A nil source means no federated
// logout; a nil invalidator skips local invalidation.
func NewCoordinator(source URLSource, invalidator Invalidator, cfg Config, log logger.Logger) *Coordinator {
	return &Coordinator{
		source:      source,
		invalidator: invalidator,
		cfg:         cfg.withDefaults(),
		logger:      logger.OrNoOp(log),
	}
}

// Logout tears down local state and navigates b. It never panics and never
// fails: problems are reported in Result.Errors. Calling it again on an
// already cleared browser is safe.
func (c *Coordinator) Logout(ctx context.Context, b Browser) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res.Errors = multierror.Append(res.Errors, fmt.Errorf("logout panicked: %v", p))
			c.fallback(b, &res)
		}
		if err := res.Err(); err != nil {
			c.logger.Errorf("Logout completed with errors: %v", err)
		}
	}()

	c.clearStorage(b)
	c.clearCookies(b, &res)

	logoutURL := c.fetchURL(ctx, &res)

	if c.invalidator != nil {
		if err := c.invalidator.Invalidate(ctx); err != nil {
			res.Errors = multierror.Append(res.Errors, fmt.Errorf("invalidate session: %w", err))
		}
	}

	c.clearCookies(b, &res)

	if err := b.SetForceLogin(); err != nil {
		res.Errors = multierror.Append(res.Errors, fmt.Errorf("set force-login flag: %w", err))
	}

	dest, federated := c.cfg.LoginPath, false
	if logoutURL != "" {
		dest, federated = logoutURL, true
	}
	if err := b.Replace(dest); err != nil {
		res.Errors = multierror.Append(res.Errors, fmt.Errorf("navigate to %s: %w", dest, err))
		c.fallback(b, &res)
		return res
	}

	res.Destination, res.Federated = dest, federated
	c.logger.Debugf("Logout complete, federated=%t", federated)
	return res
}

// fallback repeats the local clearing and hard-navigates to the login page.
// Each step recovers on its own so a panicking browser cannot skip Navigate.
func (c *Coordinator) fallback(b Browser, res *Result) {
	res.Fallback = true
	res.Federated = false
	res.Destination = c.cfg.LoginPath

	c.safely(res, "clear storage", func() error {
		c.clearStorage(b)
		return nil
	})
	c.safely(res, "expire cookies", func() error {
		c.clearCookies(b, res)
		return nil
	})
	c.safely(res, "set force-login flag", b.SetForceLogin)
	c.safely(res, "navigate to login", func() error {
		return b.Navigate(c.cfg.LoginPath)
	})
}

// safely runs one fallback step, recording its error or panic in res.
func (c *Coordinator) safely(res *Result, step string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			res.Errors = multierror.Append(res.Errors, fmt.Errorf("logout fallback: %s panicked: %v", step, p))
		}
	}()
	if err := fn(); err != nil {
		res.Errors = multierror.Append(res.Errors, fmt.Errorf("logout fallback: %s: %w", step, err))
	}
}

func (c *Coordinator) fetchURL(ctx context.Context, res *Result) string {
	if c.source == nil {
		return ""
	}
	u, err := c.source.LogoutURL(ctx)
	if err != nil {
		c.logger.Infof("Federated logout unavailable: %v", err)
		res.Errors = multierror.Append(res.Errors, fmt.Errorf("fetch federated logout URL: %w", err))
		return ""
	}
	return u
}

func (c *Coordinator) clearStorage(b Browser) {
	var failed int
	for _, area := range []StorageArea{LocalStorage, SessionStorage} {
		for _, key := range c.cfg.StorageKeys {
			if err := b.RemoveItem(area, key); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		c.logger.Debugf("Ignored %d storage removal failures", failed)
	}
}

// clearCookies expires every matching cookie under each path, domain variant,
// SameSite mode and Secure flag, since the attributes it was set with are
// unknown.
func (c *Coordinator) clearCookies(b Browser, res *Result) {
	var errs *multierror.Error
	for _, name := range b.CookieNames() {
		if !c.matches(name) {
			continue
		}
		for _, ck := range Combinations(name, b.Hostname(), c.cfg.CookiePaths) {
			if err := b.ExpireCookie(ck); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if errs != nil {
		res.Errors = multierror.Append(res.Errors, fmt.Errorf("expire cookies: %w", errs))
	}
}

func (c *Coordinator) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range c.cfg.CookiePatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Combinations returns the attribute combinations tried when expiring name.
func Combinations(name, hostname string, paths []string) []Cookie {
	domains := []string{""}
	if hostname != "" {
		domains = append(domains, hostname, "."+hostname)
	}
	out := make([]Cookie, 0, len(domains)*len(paths)*4)
	for _, d := range domains {
		for _, p := range paths {
			for _, ss := range []http.SameSite{http.SameSiteLaxMode, http.SameSiteStrictMode} {
				for _, secure := range []bool{false, true} {
					out = append(out, Cookie{Name: name, Path: p, Domain: d, SameSite: ss, Secure: secure})
				}
			}
		}
	}
	return out
}
