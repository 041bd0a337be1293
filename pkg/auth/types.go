package auth

// Role represents a realm role carried in the access token
type Role string

const (
	RoleAdmin     Role = "admin"     // Full access to the tenant's persons
	RoleOrganizer Role = "organizer" // Can read individual persons
)

// AuthContext holds authenticated caller information
type AuthContext struct {
	Subject  string
	Email    string
	TenantID string
	Roles    []Role
}

// HasRole checks if the caller holds role
func (ac *AuthContext) HasRole(role Role) bool {
	if ac == nil {
		return false
	}
	for _, r := range ac.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the caller holds at least one of roles. An empty
// list allows any authenticated caller.
func (ac *AuthContext) HasAnyRole(roles ...Role) bool {
	if ac == nil {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if ac.HasRole(role) {
			return true
		}
	}
	return false
}
