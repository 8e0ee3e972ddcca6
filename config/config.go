// Package config loads the service configuration from a file and the
// environment.
package config

import (
	"strings"
	"time"
)

// Duration is a time.Duration written as "30s" in YAML and JSON files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// RedisConfig enables the shared revocation store. An empty Addr keeps
// revocations in memory.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Config is the complete service configuration.
type Config struct {
	Issuer                string            `json:"issuer" yaml:"issuer"`
	ClientID              string            `json:"client_id" yaml:"client_id"`
	ClientSecret          string            `json:"client_secret" yaml:"client_secret"`
	SessionSecret         string            `json:"session_secret" yaml:"session_secret"`
	RedirectURL           string            `json:"redirect_url" yaml:"redirect_url"`
	PostLogoutRedirectURL string            `json:"post_logout_redirect_url" yaml:"post_logout_redirect_url"`
	LoginPath             string            `json:"login_path" yaml:"login_path"`
	Scopes                []string          `json:"scopes" yaml:"scopes"`
	RefreshSkew           Duration          `json:"refresh_skew" yaml:"refresh_skew"`
	RefreshTimeout        Duration          `json:"refresh_timeout" yaml:"refresh_timeout"`
	RefreshRateLimit      float64           `json:"refresh_rate_limit" yaml:"refresh_rate_limit"`
	RefreshBurst          int               `json:"refresh_burst" yaml:"refresh_burst"`
	DefaultExpiresIn      Duration          `json:"default_expires_in" yaml:"default_expires_in"`
	DiscoverEndpoints     bool              `json:"discover_endpoints" yaml:"discover_endpoints"`
	CookieDomain          string            `json:"cookie_domain" yaml:"cookie_domain"`
	ForceHTTPS            bool              `json:"force_https" yaml:"force_https"`
	RoleMappingFile       string            `json:"role_mapping_file" yaml:"role_mapping_file"`
	RoleMappings          map[string]string `json:"role_mappings" yaml:"role_mappings"`
	Redis                 RedisConfig       `json:"redis" yaml:"redis"`
	RevocationTTL         Duration          `json:"revocation_ttl" yaml:"revocation_ttl"`
	LogLevel              string            `json:"log_level" yaml:"log_level"`
	LogFormat             string            `json:"log_format" yaml:"log_format"`
	ListenAddr            string            `json:"listen_addr" yaml:"listen_addr"`
	BackendURL            string            `json:"backend_url" yaml:"backend_url"`
	Environment           string            `json:"environment" yaml:"environment"`
}

// Defaults returns a configuration with every optional field set.
func Defaults() *Config {
	return &Config{
		LoginPath:        "/auth/login",
		Scopes:           []string{"openid", "email", "profile"},
		RefreshSkew:      Duration{60 * time.Second},
		RefreshTimeout:   Duration{30 * time.Second},
		RefreshBurst:     10,
		DefaultExpiresIn: Duration{time.Hour},
		RevocationTTL:    Duration{30 * 24 * time.Hour},
		LogLevel:         "info",
		LogFormat:        "text",
		ListenAddr:       ":8080",
		Environment:      "development",
	}
}

// IsProduction reports whether missing configuration is fatal.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	if out.ClientSecret != "" {
		out.ClientSecret = "REDACTED"
	}
	if out.SessionSecret != "" {
		out.SessionSecret = "REDACTED"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "REDACTED"
	}
	return out
}
