package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukaszraczylo/oidcsession/claims"
	"github.com/lukaszraczylo/oidcsession/session"
	"github.com/lukaszraczylo/oidcsession/token"
)

// Login starts the authorization-code flow. A pending force-login flag, or
// ?prompt=login or ?logout on the request, makes the provider show its login
// screen; otherwise the user may pick an existing account.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	prompt := token.PromptSelectAccount
	if h.consumeForceLogin(w, r) || q.Get("prompt") == "login" || q.Has("logout") {
		prompt = token.PromptLogin
	}

	rec := session.NewRecord(time.Now())
	rec.State = uuid.NewString()
	rec.ReturnTo = safeReturnTo(q.Get("returnTo"))

	if err := h.Store.Save(w, r, rec); err != nil {
		h.logger.Errorf("Failed to save login state: %v", err)
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}

	h.logger.Debugf("Redirecting to provider with prompt=%s", prompt)
	http.Redirect(w, r, h.Codes.AuthCodeURL(rec.State, prompt), http.StatusFound)
}

func (h *Handlers) consumeForceLogin(w http.ResponseWriter, r *http.Request) bool {
	if _, err := r.Cookie(ForceLoginCookie); err != nil {
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ForceLoginCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

// Callback completes the flow: it checks the state, exchanges the code and
// stores the new tokens in a fresh session.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pending, err := h.Store.Load(r)
	if err != nil || pending.State == "" || q.Get("state") != pending.State {
		h.logger.Info("Rejected callback with missing or mismatched state")
		http.Error(w, "Invalid login state, please try again", http.StatusBadRequest)
		return
	}

	if errCode := q.Get("error"); errCode != "" {
		h.logger.Infof("Provider returned error %s: %s", errCode, q.Get("error_description"))
		h.Store.Destroy(w, r)
		http.Error(w, "Login failed: "+errCode, http.StatusUnauthorized)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	resp, err := h.Codes.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Errorf("Code exchange failed: %v", err)
		http.Error(w, "Login failed, please try again", http.StatusBadGateway)
		return
	}

	// A new ID on every login rules out session fixation.
	rec := session.NewRecord(time.Now())
	rec.Tokens = h.Machine.Start(resp)
	c := claims.MergeTokens(rec.Tokens.AccessToken, rec.Tokens.IDToken)
	if h.Mapper != nil {
		rec.SetRoles(h.Mapper.MapRawRolesToInternal(c.RawRoles()))
		if unmapped := h.Mapper.ListUnmapped(c.RawRoles()); len(unmapped) > 0 {
			h.logger.Debugf("Unmapped provider roles: %s", strings.Join(unmapped, ", "))
		}
	}

	if err := h.Store.Save(w, r, rec); err != nil {
		h.logger.Errorf("Failed to save session: %v", err)
		http.Error(w, "Failed to save session", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(map[string]any{"session": rec.ID, "roles": strings.Join(rec.Roles, ",")}).Info("User logged in")

	target := pending.ReturnTo
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// safeReturnTo keeps only same-origin absolute paths.
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return ""
	}
	return raw
}

func (h *Handlers) secure(r *http.Request) bool {
	return h.opts.ForceHTTPS || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
