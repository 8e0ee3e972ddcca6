package roles

import (
	"fmt"
	"strings"
)

// Mapper turns raw identity-provider role and group names into internal roles.
type Mapper interface {
	// MapRawRolesToInternal returns the distinct internal roles granted by raw,
	// in hierarchy order. Unmapped names are dropped.
	MapRawRolesToInternal(raw []string) []Role
	// ListUnmapped returns the distinct raw names with no mapping, in first
	// seen order.
	ListUnmapped(raw []string) []string
}

// Table is an immutable, versioned mapping from raw names to roles.
type Table struct {
	version  string
	mappings map[string]Role
}

// NewTable validates mappings and builds a Table. Keys are matched
// case-insensitively; a leading "/" (Keycloak group path) is ignored.
func NewTable(version string, mappings map[string]string) (*Table, error) {
	t := &Table{version: version, mappings: make(map[string]Role, len(mappings))}
	for raw, target := range mappings {
		role, ok := Parse(target)
		if !ok {
			return nil, fmt.Errorf("role mapping %q: unknown role %q", raw, target)
		}
		key := canonical(raw)
		if key == "" {
			return nil, fmt.Errorf("role mapping with empty key targets %q", target)
		}
		if prev, dup := t.mappings[key]; dup && prev != role {
			return nil, fmt.Errorf("role mapping %q maps to both %q and %q", raw, prev, role)
		}
		t.mappings[key] = role
	}
	return t, nil
}

// DefaultTable maps the plain and plural role names to themselves.
func DefaultTable() *Table {
	t, _ := NewTable("default", map[string]string{
		"employee":      "employee",
		"employees":     "employee",
		"manager":       "manager",
		"managers":      "manager",
		"admin":         "admin",
		"admins":        "admin",
		"administrator": "admin",
	})
	return t
}

func canonical(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
}

// Version identifies the table contents.
func (t *Table) Version() string { return t.version }

// Len returns the number of mappings.
func (t *Table) Len() int { return len(t.mappings) }

// Lookup maps one raw name.
func (t *Table) Lookup(raw string) (Role, bool) {
	r, ok := t.mappings[canonical(raw)]
	return r, ok
}

// MapRawRolesToInternal implements Mapper.
func (t *Table) MapRawRolesToInternal(raw []string) []Role {
	var out []Role
	for _, name := range raw {
		if r, ok := t.Lookup(name); ok {
			out = append(out, r)
		}
	}
	return Normalize(out)
}

// ListUnmapped implements Mapper.
func (t *Table) ListUnmapped(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range raw {
		if _, ok := t.Lookup(name); ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
