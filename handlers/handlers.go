// Package handlers serves the session HTTP endpoints: login, callback,
// session and permission views, logout and the authenticated backend proxy.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lukaszraczylo/oidcsession/internal/logger"
	"github.com/lukaszraczylo/oidcsession/internal/provider"
	"github.com/lukaszraczylo/oidcsession/internal/revocation"
	"github.com/lukaszraczylo/oidcsession/logout"
	"github.com/lukaszraczylo/oidcsession/middleware"
	"github.com/lukaszraczylo/oidcsession/roles"
	"github.com/lukaszraczylo/oidcsession/session"
	"github.com/lukaszraczylo/oidcsession/token"
)

// ForceLoginCookie is set by logout and consumed by the next login, which
// then asks the provider for an explicit login prompt.
const ForceLoginCookie = "_oidc_force_login"

const forceLoginMaxAge = 5 * time.Minute

// CodeExchanger starts and completes the authorization-code flow.
type CodeExchanger interface {
	AuthCodeURL(state, prompt string) string
	Exchange(ctx context.Context, code string) (*token.Response, error)
}

// Options are the handler settings taken from configuration.
type Options struct {
	Issuer                string
	ClientID              string
	PostLogoutRedirectURL string
	LoginPath             string
	ForceHTTPS            bool
	RevocationTTL         time.Duration
	Logout                logout.Config
}

// Deps are the collaborators shared with the rest of the service.
type Deps struct {
	Store       *session.Store
	Machine     *token.Machine
	Codes       CodeExchanger
	Auth        *middleware.Authenticator
	Mapper      roles.Mapper
	Endpoints   provider.Endpoints
	Revocations revocation.Store
	Logger      logger.Logger
}

// Handlers implements the HTTP surface.
type Handlers struct {
	opts Options
	Deps
	logger logger.Logger
}

// New creates the handlers.
func New(opts Options, deps Deps) *Handlers {
	if opts.LoginPath == "" {
		opts.LoginPath = logout.DefaultLoginPath
	}
	opts.Logout.LoginPath = opts.LoginPath
	if opts.RevocationTTL <= 0 {
		opts.RevocationTTL = revocation.DefaultTTL
	}
	return &Handlers{opts: opts, Deps: deps, logger: logger.OrNoOp(deps.Logger)}
}

// Register mounts every auth endpoint on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("GET /auth/session", h.Session)
	mux.HandleFunc("GET /auth/permissions", h.Permissions)
	mux.HandleFunc("POST /auth/federated-logout", h.FederatedLogout)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/config", h.Config)
}

// Config exposes the public provider settings a browser client needs.
func (h *Handlers) Config(w http.ResponseWriter, r *http.Request) {
	if h.opts.Issuer == "" || h.opts.ClientID == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Provider configuration not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"issuer":   h.opts.Issuer,
		"clientId": h.opts.ClientID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
