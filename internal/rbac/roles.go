package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
//
// client: pays for sessions from a prepaid balance.
// reader: delivers sessions and is paid per minute.
// admin:  platform operations (manual credits, forced terminations).
const (
	RoleClient = "client"
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
