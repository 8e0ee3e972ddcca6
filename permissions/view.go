package permissions

import (
	"github.com/lukaszraczylo/oidcsession/claims"
	"github.com/lukaszraczylo/oidcsession/roles"
)

// View is the derived authorization context of one request. It is recomputed
// from claims whenever tokens change and must not be mutated by consumers.
type View struct {
	NormalizedRoles         []roles.Role    `json:"normalizedRoles"`
	AllPermissions          []string        `json:"allPermissions"`
	RealmRoles              []string        `json:"realmRoles"`
	ResourceRolesByResource []ResourceRoles `json:"resourceRolesByResource"`
	Groups                  []string        `json:"groups"`
	Highest                 roles.Role      `json:"highestRole"`
	UnmappedRoles           []string        `json:"unmappedRoles"`
	Loading                 bool            `json:"loading"`
	Error                   string          `json:"error,omitempty"`
}

// NewView derives the authorization view. When c is nil, or carries no role
// claims at all (a thin refreshed token), the normalized roles come from
// fallback, the roles recorded when the session was issued.
func NewView(c *claims.Claims, fallback []roles.Role, mapper roles.Mapper) View {
	v := View{
		AllPermissions:          ExtractAllPermissions(c),
		RealmRoles:              nonNil(c.RealmRoles()),
		ResourceRolesByResource: ResourceRolesByResource(c),
		Groups:                  nonNil(c.Groups()),
		UnmappedRoles:           []string{},
	}

	if c != nil && mapper != nil && (c.HasRoleClaims() || c.Groups() != nil) {
		raw := c.RawRoles()
		v.NormalizedRoles = mapper.MapRawRolesToInternal(raw)
		v.UnmappedRoles = nonNil(mapper.ListUnmapped(raw))
	} else {
		v.NormalizedRoles = roles.Normalize(fallback)
	}
	v.Highest = roles.Highest(v.NormalizedRoles)
	return v
}

// WithError marks the view as derived from a session in an error state.
func (v View) WithError(kind string) View {
	v.Error = kind
	return v
}

// HasRole reports whether the view satisfies required, honoring the hierarchy.
func (v View) HasRole(required roles.Role) bool {
	return roles.Has(v.NormalizedRoles, required)
}

// HasAnyRole reports whether any of required is satisfied.
func (v View) HasAnyRole(required ...roles.Role) bool {
	return roles.HasAny(v.NormalizedRoles, required...)
}

// HasAllRoles reports whether all of required are satisfied.
func (v View) HasAllRoles(required ...roles.Role) bool {
	return roles.HasAll(v.NormalizedRoles, required...)
}

// HighestRole returns the most privileged role, or roles.None.
func (v View) HighestRole() roles.Role {
	return v.Highest
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
