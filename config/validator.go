package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/lukaszraczylo/oidcsession/internal/errors"
)

// MinSessionSecretLength mirrors the cookie store's key requirement.
const MinSessionSecretLength = 32

// Missing returns the names of absent required settings.
func (c *Config) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"issuer", c.Issuer},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"session_secret", c.SessionSecret},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Validate returns a CONFIG_MISSING error when required settings are absent
// and a CONFIG_INVALID error listing every malformed one otherwise.
func (c *Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return errors.NewConfigMissingError(missing)
	}

	var result *multierror.Error
	if err := validateURL("issuer", c.Issuer, true); err != nil {
		result = multierror.Append(result, err)
	}
	for name, value := range map[string]string{
		"redirect_url":             c.RedirectURL,
		"post_logout_redirect_url": c.PostLogoutRedirectURL,
		"backend_url":              c.BackendURL,
	} {
		if value == "" {
			continue
		}
		if err := validateURL(name, value, false); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(c.SessionSecret) < MinSessionSecretLength {
		result = multierror.Append(result, fmt.Errorf("session_secret must be at least %d characters", MinSessionSecretLength))
	}
	if c.LoginPath != "" && !strings.HasPrefix(c.LoginPath, "/") {
		result = multierror.Append(result, fmt.Errorf("login_path must start with /"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json", "none":
	default:
		result = multierror.Append(result, fmt.Errorf("log_format %q is not one of text, json, none", c.LogFormat))
	}
	if c.RefreshSkew.Duration < 0 || c.RefreshTimeout.Duration < 0 || c.DefaultExpiresIn.Duration < 0 {
		result = multierror.Append(result, fmt.Errorf("durations must not be negative"))
	}
	if c.RefreshRateLimit < 0 || c.RefreshBurst < 0 {
		result = multierror.Append(result, fmt.Errorf("refresh rate limit and burst must not be negative"))
	}

	if err := result.ErrorOrNil(); err != nil {
		e := errors.Wrap(errors.ErrCodeConfigInvalid, "Configuration is invalid", err)
		e.Details = err.Error()
		return e
	}
	return nil
}

func validateURL(name, value string, requireHTTPS bool) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", name)
	}
	if requireHTTPS && u.Scheme != "https" && !isLocalHost(u.Hostname()) {
		return fmt.Errorf("%s must use https", name)
	}
	return nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
