// Package session persists the session record in encrypted browser cookies
// and projects it into the minimal view exposed to handlers and the UI.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/lukaszraczylo/oidcsession/roles"
	"github.com/lukaszraczylo/oidcsession/token"
)

// Record is everything the service keeps about one browser session. It lives
// only in the client's cookies.
type Record struct {
	// ID is empty when the request carried no session.
	ID     string
	Tokens token.Set
	// Roles are the normalized roles derived when tokens were last issued. They
	// back the authorization view when the current token cannot be decoded.
	Roles     []string
	CreatedAt time.Time

	// Pending login, set between /auth/login and /auth/callback.
	State    string
	ReturnTo string
}

// NewRecord starts a session with a random ID.
func NewRecord(now time.Time) *Record {
	return &Record{ID: uuid.NewString(), CreatedAt: now}
}

// Exists reports whether the record belongs to a session.
func (r *Record) Exists() bool { return r != nil && r.ID != "" }

// Authenticated reports whether the record holds tokens or a token error.
func (r *Record) Authenticated() bool {
	return r.Exists() && (!r.Tokens.Empty() || r.Tokens.Error != token.NoError)
}

// NormalizedRoles returns Roles as roles.Role values.
func (r *Record) NormalizedRoles() []roles.Role {
	if r == nil {
		return nil
	}
	return roles.FromStrings(r.Roles)
}

// SetRoles stores roles in hierarchy order.
func (r *Record) SetRoles(held []roles.Role) {
	r.Roles = roles.Strings(roles.Normalize(held))
}
