package auth

// RequireRole reports ErrForbidden unless id satisfies role. Admins satisfy every role.
func RequireRole(id Identity, role Role) error {
	if id.Role == RoleAdmin {
		return nil
	}
	if role == RoleAdmin {
		return errAdminOnly
	}
	if id.Role != role {
		return E(ErrForbidden, "insufficient role")
	}
	return nil
}
