package core

import "strings"

// Role prefixes the core checks permissions against.
const (
	RoleAdmin      = "admin:"
	RoleInstructor = "instructor:"
	RoleTA         = "ta:"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Roles []string
}

func (a Actor) HasRolePrefix(prefix string) bool {
	for _, role := range a.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool      { return a.HasRolePrefix(RoleAdmin) }
func (a Actor) IsInstructor() bool { return a.HasRolePrefix(RoleInstructor) }
func (a Actor) IsTA() bool         { return a.HasRolePrefix(RoleTA) }

// IsStaff reports whether the actor may bypass course access checks.
func (a Actor) IsStaff() bool {
	return a.IsAdmin() || a.IsInstructor() || a.IsTA()
}
