package shared

// Core platform permissions.
const (
	PermMembersRead   = "members:read"
	PermMembersUpdate = "members:update"

	PermUsersRead   = "users:read"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"

	PermRolesRead = "roles:read"

	PermLocksRead  = "locks:read"
	PermLocksWrite = "locks:write"

	PermAuditRead = "audit:read"
)

// CoreScopes lists all permissions guarded by the platform routes.
func CoreScopes() []string {
	return []string{
		PermMembersRead,
		PermMembersUpdate,
		PermUsersRead,
		PermUsersUpdate,
		PermUsersDelete,
		PermRolesRead,
		PermLocksRead,
		PermLocksWrite,
		PermAuditRead,
	}
}
