package claims

import (
	"encoding/json"
	"sort"
)

// Get returns the raw value of a claim.
func (c *Claims) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// String returns a string claim, or "" when absent or not a string.
func (c *Claims) String(key string) string {
	v, _ := c.Get(key)
	s, _ := v.(string)
	return s
}

// Int64 returns a numeric claim such as exp or iat.
func (c *Claims) Int64(key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// Bool returns a boolean claim.
func (c *Claims) Bool(key string) (bool, bool) {
	v, _ := c.Get(key)
	b, ok := v.(bool)
	return b, ok
}

// Strings returns the string members of an array claim. Non-string members
// are skipped.
func (c *Claims) Strings(key string) []string {
	v, _ := c.Get(key)
	return stringSlice(v)
}

// Map returns a shallow copy of all claims.
func (c *Claims) Map() map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// RealmRoles returns realm_access.roles.
func (c *Claims) RealmRoles() []string {
	v, _ := c.Get(RealmAccess)
	ra, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return stringSlice(ra["roles"])
}

// Resources returns the resource_access keys in document order. It is empty
// when resource_access is absent or not an object.
func (c *Claims) Resources() []string {
	if c == nil {
		return nil
	}
	if _, ok := c.values[ResourceAccess].(map[string]any); !ok {
		return nil
	}
	return c.resourceOrder
}

// ResourceRoles returns resource_access[resource].roles.
func (c *Claims) ResourceRoles(resource string) []string {
	v, _ := c.Get(ResourceAccess)
	ra, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	entry, ok := ra[resource].(map[string]any)
	if !ok {
		return nil
	}
	return stringSlice(entry["roles"])
}

// Groups returns the groups claim.
func (c *Claims) Groups() []string {
	return c.Strings(Groups)
}

// HasRoleClaims reports whether the payload carries realm_access or
// resource_access at all.
func (c *Claims) HasRoleClaims() bool {
	if _, ok := c.Get(RealmAccess); ok {
		return true
	}
	_, ok := c.Get(ResourceAccess)
	return ok
}

// RawRoles returns realm roles, then every resource's roles in resource
// order, then groups. Duplicates are kept.
func (c *Claims) RawRoles() []string {
	var raw []string
	raw = append(raw, c.RealmRoles()...)
	for _, r := range c.Resources() {
		raw = append(raw, c.ResourceRoles(r)...)
	}
	return append(raw, c.Groups()...)
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
