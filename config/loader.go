package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "OIDCSESSION_"

// Loader reads configuration from a file and the environment.
type Loader struct {
	envPrefix   string
	configPaths []string
	getenv      func(string) string
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:   EnvPrefix,
		configPaths: []string{"oidcsession.yaml", "oidcsession.yml", "oidcsession.json"},
		getenv:      os.Getenv,
	}
}

// Load builds the configuration: defaults, then the first config file found,
// then environment variables. It does not validate.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	path := l.findFile()
	if path != "" {
		if err := l.loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	l.LoadFromEnv(cfg)
	return cfg, nil
}

func (l *Loader) findFile() string {
	paths := l.configPaths
	if envPath := l.getenv(l.envPrefix + "CONFIG_FILE"); envPath != "" {
		paths = append([]string{envPath}, paths...)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFile overlays the settings in path onto cfg.
func (l *Loader) LoadFile(path string, cfg *Config) error {
	return l.loadFile(path, cfg)
}

func (l *Loader) loadFile(path string, cfg *Config) error {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}
	return nil
}

// LoadFromEnv overlays environment variables onto cfg. Each setting also
// accepts the unprefixed Keycloak and NextAuth style names.
func (l *Loader) LoadFromEnv(cfg *Config) {
	l.loadEnvString(&cfg.Issuer, "ISSUER", "KEYCLOAK_ISSUER")
	l.loadEnvString(&cfg.ClientID, "CLIENT_ID", "KEYCLOAK_CLIENT_ID")
	l.loadEnvString(&cfg.ClientSecret, "CLIENT_SECRET", "KEYCLOAK_CLIENT_SECRET")
	l.loadEnvString(&cfg.SessionSecret, "SESSION_SECRET", "NEXTAUTH_SECRET")
	l.loadEnvString(&cfg.RedirectURL, "REDIRECT_URL")
	l.loadEnvString(&cfg.PostLogoutRedirectURL, "POST_LOGOUT_REDIRECT_URL")
	l.loadEnvString(&cfg.LoginPath, "LOGIN_PATH")
	l.loadEnvStringSlice(&cfg.Scopes, "SCOPES")

	l.loadEnvDuration(&cfg.RefreshSkew, "REFRESH_SKEW")
	l.loadEnvDuration(&cfg.RefreshTimeout, "REFRESH_TIMEOUT")
	l.loadEnvFloat(&cfg.RefreshRateLimit, "REFRESH_RATE_LIMIT")
	l.loadEnvInt(&cfg.RefreshBurst, "REFRESH_BURST")
	l.loadEnvDuration(&cfg.DefaultExpiresIn, "DEFAULT_EXPIRES_IN")
	l.loadEnvBool(&cfg.DiscoverEndpoints, "DISCOVER_ENDPOINTS")

	l.loadEnvString(&cfg.CookieDomain, "COOKIE_DOMAIN")
	l.loadEnvBool(&cfg.ForceHTTPS, "FORCE_HTTPS")
	l.loadEnvString(&cfg.RoleMappingFile, "ROLE_MAPPING_FILE")

	l.loadEnvString(&cfg.Redis.Addr, "REDIS_ADDR")
	l.loadEnvString(&cfg.Redis.Password, "REDIS_PASSWORD")
	l.loadEnvInt(&cfg.Redis.DB, "REDIS_DB")
	l.loadEnvString(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	l.loadEnvDuration(&cfg.RevocationTTL, "REVOCATION_TTL")

	l.loadEnvString(&cfg.LogLevel, "LOG_LEVEL")
	l.loadEnvString(&cfg.LogFormat, "LOG_FORMAT")
	l.loadEnvString(&cfg.ListenAddr, "LISTEN_ADDR")
	l.loadEnvString(&cfg.BackendURL, "BACKEND_URL")
	l.loadEnvString(&cfg.Environment, "ENVIRONMENT", "APP_ENV")
}

// lookup returns the prefixed key, then any alias tried without the prefix.
func (l *Loader) lookup(key string, aliases ...string) (string, bool) {
	if v := l.getenv(l.envPrefix + key); v != "" {
		return v, true
	}
	for _, a := range aliases {
		if v := l.getenv(a); v != "" {
			return v, true
		}
	}
	return "", false
}

func (l *Loader) loadEnvString(target *string, key string, aliases ...string) {
	if v, ok := l.lookup(key, aliases...); ok {
		*target = v
	}
}

func (l *Loader) loadEnvBool(target *bool, key string, aliases ...string) {
	if v, ok := l.lookup(key, aliases...); ok {
		*target = strings.ToLower(v) == "true" || v == "1"
	}
}

func (l *Loader) loadEnvInt(target *int, key string, aliases ...string) {
	if v, ok := l.lookup(key, aliases...); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = i
		}
	}
}

func (l *Loader) loadEnvFloat(target *float64, key string, aliases ...string) {
	if v, ok := l.lookup(key, aliases...); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*target = f
		}
	}
}

func (l *Loader) loadEnvDuration(target *Duration, key string, aliases ...string) {
	if v, ok := l.lookup(key, aliases...); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			target.Duration = d
		}
	}
}

func (l *Loader) loadEnvStringSlice(target *[]string, key string, aliases ...string) {
	if v, ok := l.lookup(key, aliases...); ok {
		*target = splitAndTrim(v)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
