package session

import (
	"github.com/lukaszraczylo/oidcsession/claims"
	"github.com/lukaszraczylo/oidcsession/roles"
	"github.com/lukaszraczylo/oidcsession/token"
)

// ClaimSubset is the whitelisted part of the decoded claims that may leave
// the service.
type ClaimSubset struct {
	Exp               int64    `json:"exp,omitempty"`
	Iat               int64    `json:"iat,omitempty"`
	Sub               string   `json:"sub,omitempty"`
	Email             string   `json:"email,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	EmailVerified     *bool    `json:"email_verified,omitempty"`
	RealmAccess       any      `json:"realm_access,omitempty"`
	ResourceAccess    any      `json:"resource_access,omitempty"`
	Groups            []string `json:"groups,omitempty"`
}

// View is the session shape exposed to the UI and routing layers. It never
// carries the refresh token or the identity token.
type View struct {
	AccessToken  string          `json:"accessToken,omitempty"`
	Error        token.ErrorKind `json:"error,omitempty"`
	Roles        []string        `json:"roles"`
	TokenPayload *ClaimSubset    `json:"tokenPayload,omitempty"`
}

// Project builds the View of rec. When c is nil the claim subset is omitted
// but the token, error flag and roles are still reported.
func Project(rec *Record, c *claims.Claims) View {
	v := View{Roles: []string{}}
	if rec == nil {
		return v
	}
	v.AccessToken = rec.Tokens.AccessToken
	v.Error = rec.Tokens.Error
	if len(rec.Roles) > 0 {
		v.Roles = append(v.Roles, rec.Roles...)
	}
	if c != nil {
		v.TokenPayload = subset(c)
	}
	return v
}

func subset(c *claims.Claims) *ClaimSubset {
	s := &ClaimSubset{
		Sub:               c.String(claims.Subject),
		Email:             c.String(claims.Email),
		Name:              c.String(claims.Name),
		PreferredUsername: c.String(claims.PreferredUsername),
		Groups:            c.Groups(),
	}
	s.Exp, _ = c.Int64(claims.Expiry)
	s.Iat, _ = c.Int64(claims.IssuedAt)
	if b, ok := c.Bool(claims.EmailVerified); ok {
		s.EmailVerified = &b
	}
	s.RealmAccess, _ = c.Get(claims.RealmAccess)
	s.ResourceAccess, _ = c.Get(claims.ResourceAccess)
	return s
}

// UpdateRoles re-derives rec.Roles from c. Claims without any role-bearing
// claim leave the previous roles in place, so a refresh that returns a thin
// token does not strip the user's roles.
func (r *Record) UpdateRoles(c *claims.Claims, mapper roles.Mapper) {
	if c == nil || mapper == nil {
		return
	}
	if !c.HasRoleClaims() && c.Groups() == nil {
		return
	}
	r.SetRoles(mapper.MapRawRolesToInternal(c.RawRoles()))
}
