// Package servers provides an in-process fake of a Keycloak realm for tests.
package servers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// OAuthError is an RFC 6749 error body.
type OAuthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Keycloak serves a single realm under /realms/{realm}. Responses are
// programmable and every call is counted.
type Keycloak struct {
	*httptest.Server
	Realm string

	mu              sync.Mutex
	codeResponse    map[string]any
	refreshResponse map[string]any
	refreshError    *OAuthError
	refreshStatus   int
	refreshHook     func(form url.Values)
	tokenDelay      time.Duration
	dropConnection  bool
	forms           []url.Values

	codeCalls    int32
	refreshCalls int32
}

// NewKeycloak starts a fake realm.
func NewKeycloak(realm string) *Keycloak {
	k := &Keycloak{Realm: realm}

	mux := http.NewServeMux()
	prefix := "/realms/" + realm
	mux.HandleFunc(prefix+"/.well-known/openid-configuration", k.handleDiscovery)
	mux.HandleFunc(prefix+"/protocol/openid-connect/token", k.handleToken)
	mux.HandleFunc(prefix+"/protocol/openid-connect/auth", k.handleAuth)
	mux.HandleFunc(prefix+"/protocol/openid-connect/logout", k.handleLogout)
	mux.HandleFunc(prefix+"/protocol/openid-connect/certs", k.handleCerts)

	k.Server = httptest.NewServer(mux)
	return k
}

// Issuer returns the realm issuer URL.
func (k *Keycloak) Issuer() string {
	return k.URL + "/realms/" + k.Realm
}

// SetCodeResponse programs the authorization_code grant response.
func (k *Keycloak) SetCodeResponse(body map[string]any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.codeResponse = body
}

// SetRefreshResponse programs a successful refresh_token grant response and
// clears any programmed error.
func (k *Keycloak) SetRefreshResponse(body map[string]any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.refreshResponse = body
	k.refreshError = nil
	k.dropConnection = false
}

// SetRefreshError makes refresh_token grants fail with status and code.
func (k *Keycloak) SetRefreshError(status int, code, description string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.refreshStatus = status
	k.refreshError = &OAuthError{Error: code, Description: description}
}

// SetDropConnection makes the token endpoint close the connection without a
// response, which clients observe as a transport error.
func (k *Keycloak) SetDropConnection(drop bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dropConnection = drop
}

// SetTokenDelay delays every token endpoint response.
func (k *Keycloak) SetTokenDelay(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tokenDelay = d
}

// OnRefresh registers a hook called with each refresh request form.
func (k *Keycloak) OnRefresh(hook func(form url.Values)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.refreshHook = hook
}

// RefreshCalls returns the number of refresh_token grants received.
func (k *Keycloak) RefreshCalls() int { return int(atomic.LoadInt32(&k.refreshCalls)) }

// CodeCalls returns the number of authorization_code grants received.
func (k *Keycloak) CodeCalls() int { return int(atomic.LoadInt32(&k.codeCalls)) }

// Forms returns every token request form received so far.
func (k *Keycloak) Forms() []url.Values {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]url.Values, len(k.forms))
	copy(out, k.forms)
	return out
}

func (k *Keycloak) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := k.Issuer() + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                k.Issuer(),
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"end_session_endpoint":                  base + "/logout",
		"jwks_uri":                              base + "/certs",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"ES256", "RS256"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
	})
}

func (k *Keycloak) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()

	k.mu.Lock()
	k.forms = append(k.forms, r.PostForm)
	delay := k.tokenDelay
	drop := k.dropConnection
	codeResp := k.codeResponse
	refreshResp := k.refreshResponse
	refreshErr := k.refreshError
	refreshStatus := k.refreshStatus
	hook := k.refreshHook
	k.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		atomic.AddInt32(&k.codeCalls, 1)
		if codeResp == nil {
			codeResp = defaultTokenResponse()
		}
		writeJSON(w, http.StatusOK, codeResp)

	case "refresh_token":
		atomic.AddInt32(&k.refreshCalls, 1)
		if hook != nil {
			hook(r.PostForm)
		}
		if drop {
			hijackAndClose(w)
			return
		}
		if refreshErr != nil {
			status := refreshStatus
			if status == 0 {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, refreshErr)
			return
		}
		if refreshResp == nil {
			refreshResp = defaultTokenResponse()
		}
		writeJSON(w, http.StatusOK, refreshResp)

	default:
		writeJSON(w, http.StatusBadRequest, OAuthError{Error: "unsupported_grant_type"})
	}
}

func (k *Keycloak) handleAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || target.String() == "" {
		writeJSON(w, http.StatusBadRequest, OAuthError{Error: "invalid_request"})
		return
	}
	tq := target.Query()
	tq.Set("code", "test-auth-code")
	tq.Set("state", q.Get("state"))
	target.RawQuery = tq.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (k *Keycloak) handleLogout(w http.ResponseWriter, r *http.Request) {
	if next := r.URL.Query().Get("post_logout_redirect_uri"); next != "" {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (k *Keycloak) handleCerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
}

func defaultTokenResponse() map[string]any {
	return map[string]any{
		"access_token":  "mock-access-token",
		"token_type":    "Bearer",
		"expires_in":    300,
		"refresh_token": "mock-refresh-token",
		"id_token":      "mock-id-token",
	}
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
