// Package permissions checks dotted permission grants against required
// permissions, with wildcard support.
//
// Permission format:
//   - "*" - full access
//   - "resource.*" - all actions on a resource (e.g. "compliance.*")
//   - "resource.action" - a specific action (e.g. "compliance.erase")
//   - "resource.subresource.action" - nested (e.g. "compliance.audit.read")
package permissions

import (
	"strings"
)

// HasPermission checks whether the grants include the required permission.
// "*" grants everything; "compliance.*" grants every compliance action.
func HasPermission(grants []string, required string) bool {
	if required == "" {
		return true
	}

	for _, g := range grants {
		if g == "*" || g == required {
			return true
		}
		if strings.HasSuffix(g, ".*") {
			prefix := strings.TrimSuffix(g, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks whether the grants cover at least one of the
// required permissions.
func HasAnyPermission(grants []string, required []string) bool {
	for _, req := range required {
		if HasPermission(grants, req) {
			return true
		}
	}
	return false
}

// HasAllPermissions checks whether the grants cover every required
// permission.
func HasAllPermissions(grants []string, required []string) bool {
	for _, req := range required {
		if !HasPermission(grants, req) {
			return false
		}
	}
	return true
}

// FilterByPrefix returns the grants under a resource prefix, e.g. every
// "compliance.*" grant a token carries.
func FilterByPrefix(grants []string, prefix string) []string {
	var matches []string
	for _, g := range grants {
		if strings.HasPrefix(g, prefix+".") || g == prefix {
			matches = append(matches, g)
		}
	}
	return matches
}

// MergePermissions merges permission sets, removing duplicates. Used when
// a role's base grants combine with per-user overrides.
func MergePermissions(sets ...[]string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, set := range sets {
		for _, g := range set {
			if !seen[g] {
				seen[g] = true
				result = append(result, g)
			}
		}
	}

	return result
}

// KnownPermissions lists the permissions the compliance service checks.
var KnownPermissions = []string{
	// Self-service account deletion
	"account.deletion.request",
	"account.deletion.cancel",

	// Administrative compliance operations
	"compliance.erase",
	"compliance.audit.read",
	"compliance.*",

	// Full access
	"*",
}

// IsValidPermission reports whether a permission string is known or at
// least well-formed (resource.action).
func IsValidPermission(perm string) bool {
	if perm == "*" {
		return true
	}
	for _, p := range KnownPermissions {
		if p == perm {
			return true
		}
	}
	return len(strings.Split(perm, ".")) >= 2
}
