// Package model defines the canonical data types shared across the gateway:
// the resolved user and organization records, route/service configuration,
// access rules and role mappings. These are treated as immutable for the
// process lifetime once loaded (routes, services, rules, mappings) or for
// the lifetime of a request (the resolved user).
package model

import "strings"

// RolePrefix is the mandatory prefix every canonical role carries exactly once.
const RolePrefix = "ROLE_"

// RoleUser is the role every resolved authenticated user carries; the
// synthetic anonymous user carries only RoleAnonymous.
const RoleUser = "ROLE_USER"

// RoleAnonymous is the synthetic role assigned to unauthenticated callers.
const RoleAnonymous = "ROLE_ANONYMOUS"

// User is the canonical, normalized representation of an authenticated
// principal used by every downstream component.
type User struct {
	ID                     string
	Username               string
	Email                  string
	FirstName              string
	LastName                string
	TelephoneNumber        string
	PostalAddress          string
	Organization           string
	Roles                  []string
	ExternalProvider       string
	ExternalUID            string
	ExternalOrgID          string
	DirectoryWarn          bool
	DirectoryRemainingDays string
}

// CanonicalizeRole normalizes a role name so it carries the ROLE_ prefix
// exactly once.
func CanonicalizeRole(role string) string {
	role = strings.TrimSpace(role)
	for strings.HasPrefix(role, RolePrefix) {
		role = strings.TrimPrefix(role, RolePrefix)
	}
	if role == "" {
		return ""
	}
	return RolePrefix + role
}

// CanonicalizeRoles de-duplicates, canonicalizes, and ensures ROLE_USER is
// present, preserving first-seen order.
func CanonicalizeRoles(roles []string) []string {
	seen := make(map[string]bool, len(roles)+1)
	out := make([]string, 0, len(roles)+1)
	for _, r := range roles {
		canon := CanonicalizeRole(r)
		if canon == "" || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	if !seen[RoleUser] {
		out = append(out, RoleUser)
	}
	return out
}

// HasRole reports whether the user carries the given role, after
// canonicalizing both sides.
func (u *User) HasRole(role string) bool {
	want := CanonicalizeRole(role)
	for _, r := range u.Roles {
		if r == want {
			return true
		}
	}
	return false
}

// IsAnonymous reports whether this user represents an unauthenticated caller.
func (u *User) IsAnonymous() bool {
	return u == nil || u.HasRole(RoleAnonymous)
}

// Anonymous returns the synthetic anonymous user.
func Anonymous() *User {
	return &User{Roles: []string{RoleAnonymous}}
}

// Organization is a directory-backed group of users.
type Organization struct {
	ID          string
	Name        string
	ShortName   string
	Type        string
	ExternalUID string
	Members     map[string]bool
}

// DefaultOrganizationType is used when configuration does not specify one.
const DefaultOrganizationType = "Other"
