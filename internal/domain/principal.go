package domain

import "slices"

// Role is the POS role carried in the access token (e.g. "owner", "cashier").
type Role string

const (
	RoleOwner      Role = "owner"
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleCashier    Role = "cashier"
)

func (r Role) String() string {
	return string(r)
}

// Principal represents an authenticated POS user.
type Principal struct {
	ID       string
	Role     Role
	StoreIDs []string
}

// HasStore reports whether storeID is in the principal's permitted set.
func (p Principal) HasStore(storeID string) bool {
	if storeID == "" {
		return false
	}
	return slices.Contains(p.StoreIDs, storeID)
}

// HasRole reports whether the principal's role is one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}
