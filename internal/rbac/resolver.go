package rbac

import (
	"github.com/covenant-app/covenant/internal/auth"
)

// DecisionKind classifies an authorization outcome.
type DecisionKind int

// Decision kinds. The zero value denies.
const (
	Deny DecisionKind = iota
	AllowGlobal
	AllowOwn
	ScopeFilterRequired
)

func (k DecisionKind) String() string {
	switch k {
	case AllowGlobal:
		return "ALLOW_GLOBAL"
	case AllowOwn:
		return "ALLOW_OWN"
	case ScopeFilterRequired:
		return "SCOPE_FILTER_REQUIRED"
	default:
		return "DENY"
	}
}

// Decision is the result of a scoped authorization query. For AllowOwn it names
// the matched resource; for ScopeFilterRequired ResourceID is the linked id the
// caller must filter by.
type Decision struct {
	Kind         DecisionKind
	Permission   string
	ResourceType string
	ResourceID   string
}

// Allowed reports whether the decision grants access to a single resource.
func (d Decision) Allowed() bool {
	return d.Kind == AllowGlobal || d.Kind == AllowOwn
}

// Resolver answers permission queries against an immutable role table.
type Resolver struct {
	table *RoleTable
}

// NewResolver constructs a Resolver over table.
func NewResolver(table *RoleTable) *Resolver {
	return &Resolver{table: table}
}

// Table exposes the compiled role table.
func (r *Resolver) Table() *RoleTable {
	return r.table
}

// KnownRole reports whether role exists in the table.
func (r *Resolver) KnownRole(role string) bool {
	_, ok := r.table.Role(role)
	return ok
}

// HasPermission checks the universal grant, then an exact match, then a
// resource wildcard. Unknown roles and malformed permissions are denied.
func (r *Resolver) HasPermission(role, permission string) bool {
	compiled, ok := r.table.Role(role)
	if !ok {
		return false
	}
	perm, err := ParsePermission(permission)
	if err != nil {
		return false
	}
	return compiled.grants(perm)
}

// ResolveScoped decides whether principal may use permission on a resource.
// An empty resourceID means a collection query.
func (r *Resolver) ResolveScoped(principal auth.Principal, permission, resourceType, resourceID string) Decision {
	decision := Decision{ResourceType: resourceType, ResourceID: resourceID}
	perm, err := ParsePermission(permission)
	if err != nil {
		decision.Permission = permission
		return decision
	}
	global := perm.Global()
	decision.Permission = global.String()
	role, ok := r.table.Role(principal.Role)
	if !ok {
		return decision
	}
	if role.grants(global) {
		decision.Kind = AllowGlobal
		return decision
	}
	if global.Universal || !role.grantsOwn(global) {
		return decision
	}
	if principal.LinkedResourceID == "" {
		return decision
	}
	if resourceID == "" {
		decision.Kind = ScopeFilterRequired
		decision.ResourceID = principal.LinkedResourceID
		return decision
	}
	if resourceID == principal.LinkedResourceID {
		decision.Kind = AllowOwn
	}
	return decision
}

// CanManageRole reports whether actorRole may grant, modify or delete a
// principal holding targetRole. The top role is exempt.
func (r *Resolver) CanManageRole(actorRole, targetRole string) bool {
	actor, ok := r.table.Role(actorRole)
	if !ok {
		return false
	}
	if actor == r.table.top {
		return true
	}
	target, ok := r.table.Role(targetRole)
	if !ok {
		return false
	}
	return actor.def.Level > target.def.Level
}
