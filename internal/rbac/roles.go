package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleAgent   = "agent"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one this service issues.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleAnalyst, RoleAgent:
		return true
	default:
		return false
	}
}
