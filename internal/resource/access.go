package resource

import (
	"slices"

	"accessgate.io/internal/auth"
)

// CanAccess reports whether id may see r: admins see everything, users only
// the resources that list them.
func CanAccess(id auth.Identity, r Resource) bool {
	if id.IsAdmin() {
		return true
	}
	if id.ID == "" {
		return false
	}
	return slices.Contains(r.UsersWithAccess, id.ID)
}
