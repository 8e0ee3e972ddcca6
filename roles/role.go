// Package roles maps raw identity-provider role and group names onto the
// internal three-tier role vocabulary and answers hierarchy questions over it.
package roles

import (
	"strings"
)

// Role is an internal, normalized role.
type Role string

const (
	// None is returned by Highest when no role is held.
	None     Role = ""
	Employee Role = "employee"
	Manager  Role = "manager"
	Admin    Role = "admin"
)

// hierarchy lists roles from least to most privileged. A role implies every
// role before it.
var hierarchy = []Role{Employee, Manager, Admin}

// All returns every role in hierarchy order.
func All() []Role {
	out := make([]Role, len(hierarchy))
	copy(out, hierarchy)
	return out
}

// Parse converts a string such as "Manager" to a Role.
func Parse(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.rank() < 0 {
		return None, false
	}
	return r, true
}

func (r Role) rank() int {
	for i, h := range hierarchy {
		if h == r {
			return i
		}
	}
	return -1
}

// Valid reports whether r is part of the hierarchy.
func (r Role) Valid() bool { return r.rank() >= 0 }

func (r Role) String() string { return string(r) }

// Dominates reports whether holding r satisfies a requirement for required.
func (r Role) Dominates(required Role) bool {
	rr, qr := r.rank(), required.rank()
	return rr >= 0 && qr >= 0 && rr >= qr
}

// Has reports whether any held role is required or dominates it.
func Has(held []Role, required Role) bool {
	for _, h := range held {
		if h.Dominates(required) {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one requirement is satisfied.
func HasAny(held []Role, required ...Role) bool {
	for _, r := range required {
		if Has(held, r) {
			return true
		}
	}
	return false
}

// HasAll reports whether every requirement is satisfied. An empty role set
// satisfies nothing.
func HasAll(held []Role, required ...Role) bool {
	if len(held) == 0 {
		return false
	}
	for _, r := range required {
		if !Has(held, r) {
			return false
		}
	}
	return true
}

// Highest returns the most privileged held role, or None.
func Highest(held []Role) Role {
	best := -1
	for _, h := range held {
		if rk := h.rank(); rk > best {
			best = rk
		}
	}
	if best < 0 {
		return None
	}
	return hierarchy[best]
}

// Normalize de-duplicates held, drops unknown values, and returns the result
// in hierarchy order.
func Normalize(held []Role) []Role {
	present := make(map[Role]bool, len(held))
	for _, h := range held {
		present[h] = true
	}
	out := make([]Role, 0, len(present))
	for _, h := range hierarchy {
		if present[h] {
			out = append(out, h)
		}
	}
	return out
}

// FromStrings parses each value and keeps the valid ones, normalized.
func FromStrings(values []string) []Role {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		if r, ok := Parse(v); ok {
			out = append(out, r)
		}
	}
	return Normalize(out)
}

// Strings converts roles to their string form.
func Strings(held []Role) []string {
	out := make([]string, len(held))
	for i, h := range held {
		out[i] = string(h)
	}
	return out
}
