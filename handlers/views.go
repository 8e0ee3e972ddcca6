package handlers

import (
	"errors"
	"net/http"

	"github.com/lukaszraczylo/oidcsession/permissions"
	"github.com/lukaszraczylo/oidcsession/token"
)

// Session returns the projected session view, or null without a session.
// A session whose refresh failed for good is still reported so the client
// can see the error flag and send the user to login.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Auth.Resolve(w, r)
	if rec == nil || (err != nil && !errors.Is(err, token.ErrReauthenticationRequired)) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	sv, _ := h.Auth.Views(rec)
	writeJSON(w, http.StatusOK, sv)
}

// Permissions returns the authorization view. Without a session it is the
// empty view.
func (h *Handlers) Permissions(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Auth.Resolve(w, r)
	if rec == nil || (err != nil && !errors.Is(err, token.ErrReauthenticationRequired)) {
		writeJSON(w, http.StatusOK, permissions.NewView(nil, nil, h.Mapper))
		return
	}
	_, pv := h.Auth.Views(rec)
	writeJSON(w, http.StatusOK, pv)
}
