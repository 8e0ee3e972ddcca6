// Package oidcsession wires the session lifecycle components into a running
// service: provider endpoints, the token refresh machine, the cookie session
// store, revocation, role mapping and the HTTP handlers.
package oidcsession

import (
	"context"
	"net/http"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/lukaszraczylo/oidcsession/config"
	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
	"github.com/lukaszraczylo/oidcsession/internal/logger"
	"github.com/lukaszraczylo/oidcsession/internal/provider"
	"github.com/lukaszraczylo/oidcsession/internal/revocation"
	"github.com/lukaszraczylo/oidcsession/handlers"
	"github.com/lukaszraczylo/oidcsession/middleware"
	"github.com/lukaszraczylo/oidcsession/roles"
	"github.com/lukaszraczylo/oidcsession/session"
	"github.com/lukaszraczylo/oidcsession/token"
)

// DefaultRedisKeyPrefix namespaces revocation keys in a shared Redis.
const DefaultRedisKeyPrefix = "oidcsession:revoked:"

// Service is a configured session service.
type Service struct {
	cfg        *config.Config
	logger     logger.Logger
	httpClient *http.Client

	endpoints   provider.Endpoints
	roles       *roles.Registry
	machine     *token.Machine
	breaker     *token.Breaker
	store       *session.Store
	revocations revocation.Store
	redis       *redis.Client
	auth        *middleware.Authenticator
	handlers    *handlers.Handlers
	backend     *url.URL
}

// Option customizes New.
type Option func(*Service)

// WithHTTPClient replaces the client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithRevocationStore replaces the store selected from configuration.
func WithRevocationStore(store revocation.Store) Option {
	return func(s *Service) { s.revocations = store }
}

// New validates cfg and builds the service. Endpoint discovery and the Redis
// connection happen here, bounded by ctx.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, oidcerrors.NewConfigMissingError([]string{"issuer", "client_id", "client_secret", "session_secret"})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, logger: logger.OrNoOp(log)}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		hc := DefaultHTTPClientConfig()
		if cfg.RefreshTimeout.Duration > hc.Timeout {
			hc.Timeout = cfg.RefreshTimeout.Duration
		}
		s.httpClient = NewHTTPClient(hc)
	}

	table, err := loadRoleTable(cfg)
	if err != nil {
		return nil, err
	}
	s.roles = roles.NewRegistry(table, s.logger)

	if err := s.setupEndpoints(ctx); err != nil {
		return nil, err
	}

	exchanger := token.NewOAuth2Exchanger(s.endpoints.OAuth2(), cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL, cfg.Scopes, s.httpClient)
	tokenLog := s.logger.WithField("component", "token")
	s.breaker = token.NewBreaker(exchanger, token.DefaultBreakerConfig(), tokenLog)
	s.machine = token.NewMachine(s.breaker, token.Config{
		Skew:             cfg.RefreshSkew.Duration,
		Timeout:          cfg.RefreshTimeout.Duration,
		DefaultExpiresIn: cfg.DefaultExpiresIn.Duration,
		RateLimit:        cfg.RefreshRateLimit,
		Burst:            cfg.RefreshBurst,
	}, tokenLog, token.WithObserver(func(sessionID string, state token.State) {
		tokenLog.Debugf("Session %s entered state %s", shortID(sessionID), state)
	}))

	s.store, err = session.NewStore(cfg.SessionSecret, session.Options{
		Domain:     cfg.CookieDomain,
		ForceHTTPS: cfg.ForceHTTPS,
	}, s.logger.WithField("component", "session"))
	if err != nil {
		return nil, oidcerrors.Wrap(oidcerrors.ErrCodeConfigInvalid, "invalid session secret", err)
	}

	if s.revocations == nil {
		if err := s.setupRevocations(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.BackendURL != "" {
		if s.backend, err = url.Parse(cfg.BackendURL); err != nil {
			s.Close()
			return nil, oidcerrors.Wrap(oidcerrors.ErrCodeConfigInvalid, "invalid backend_url", err)
		}
	}

	s.auth = middleware.NewAuthenticator(s.store, s.machine, s.roles, s.revocations, cfg.LoginPath, s.logger.WithField("component", "middleware"))
	s.handlers = handlers.New(handlers.Options{
		Issuer:                s.endpoints.Issuer,
		ClientID:              cfg.ClientID,
		PostLogoutRedirectURL: cfg.PostLogoutRedirectURL,
		LoginPath:             cfg.LoginPath,
		ForceHTTPS:            cfg.ForceHTTPS,
		RevocationTTL:         cfg.RevocationTTL.Duration,
	}, handlers.Deps{
		Store:       s.store,
		Machine:     s.machine,
		Codes:       exchanger,
		Auth:        s.auth,
		Mapper:      s.roles,
		Endpoints:   s.endpoints,
		Revocations: s.revocations,
		Logger:      s.logger.WithField("component", "handlers"),
	})

	s.logger.Infof("Session service ready for issuer %s (roles table %q)", s.endpoints.Issuer, s.roles.Current().Version())
	return s, nil
}

func loadRoleTable(cfg *config.Config) (*roles.Table, error) {
	switch {
	case cfg.RoleMappingFile != "":
		t, err := roles.LoadTable(cfg.RoleMappingFile)
		if err != nil {
			return nil, oidcerrors.Wrap(oidcerrors.ErrCodeConfigInvalid, "failed to load role mapping file", err)
		}
		return t, nil
	case len(cfg.RoleMappings) > 0:
		t, err := roles.NewTable("config", cfg.RoleMappings)
		if err != nil {
			return nil, oidcerrors.Wrap(oidcerrors.ErrCodeConfigInvalid, "invalid role_mappings", err)
		}
		return t, nil
	}
	return nil, nil
}

func (s *Service) setupEndpoints(ctx context.Context) error {
	if !s.cfg.DiscoverEndpoints {
		s.endpoints = provider.Keycloak(s.cfg.Issuer)
		return nil
	}
	ep, err := provider.Discover(ctx, s.cfg.Issuer, s.httpClient)
	if err != nil {
		return oidcerrors.WrapProviderError(err, s.cfg.Issuer)
	}
	s.logger.Debugf("Discovered token endpoint %s", ep.TokenURL)
	s.endpoints = ep
	return nil
}

func (s *Service) setupRevocations(ctx context.Context) error {
	if !s.cfg.Redis.Enabled() {
		s.revocations = revocation.NewMemory()
		return nil
	}
	client, err := revocation.NewRedisClient(ctx, revocation.RedisOptions{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	prefix := s.cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	s.redis = client
	s.revocations = revocation.NewRedis(client, prefix)
	s.logger.Infof("Revoked sessions are shared through Redis at %s", s.cfg.Redis.Addr)
	return nil
}

// Routes returns the service handler: the auth endpoints and, when a backend
// is configured, the authenticated proxy for everything else.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	s.handlers.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.backend != nil {
		mux.Handle("/api/", s.handlers.Proxy(s.backend, nil))
	}
	return middleware.SecurityHeaders(middleware.DefaultSecurityHeaders(), mux)
}

// Authenticator exposes the request check for embedding the service in
// another router.
func (s *Service) Authenticator() *middleware.Authenticator { return s.auth }

// Endpoints returns the provider endpoints in use.
func (s *Service) Endpoints() provider.Endpoints { return s.endpoints }

// ReloadRoles re-reads role_mapping_file. Without a file it does nothing.
func (s *Service) ReloadRoles() error {
	if s.cfg.RoleMappingFile == "" {
		return nil
	}
	return s.roles.Reload(s.cfg.RoleMappingFile)
}

// Close releases the Redis connection, if any.
func (s *Service) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
