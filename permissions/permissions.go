// Package permissions flattens realm and per-resource role grants into
// permission lists and builds the read-only authorization view handed to
// request handlers.
package permissions

import (
	"github.com/lukaszraczylo/oidcsession/claims"
)

// ResourceRoles is the role grant of one client application.
type ResourceRoles struct {
	Resource string   `json:"resource"`
	Roles    []string `json:"roles"`
}

// ExtractAllPermissions returns realm roles followed by every resource's roles
// in resource order. Duplicates across resources are kept so each grant stays
// attributable. Groups are not permissions and are excluded.
func ExtractAllPermissions(c *claims.Claims) []string {
	out := []string{}
	if c == nil {
		return out
	}
	out = append(out, c.RealmRoles()...)
	for _, resource := range c.Resources() {
		out = append(out, c.ResourceRoles(resource)...)
	}
	return out
}

// ResourceRolesByResource returns one entry per resource_access key in
// resource order. It is empty when resource_access is absent or not an object.
func ResourceRolesByResource(c *claims.Claims) []ResourceRoles {
	resources := c.Resources()
	out := make([]ResourceRoles, 0, len(resources))
	for _, resource := range resources {
		granted := c.ResourceRoles(resource)
		if granted == nil {
			granted = []string{}
		}
		out = append(out, ResourceRoles{Resource: resource, Roles: granted})
	}
	return out
}
