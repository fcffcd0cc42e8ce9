package rbac

import (
	"fmt"
	"strings"
)

// Action is the verb half of a permission.
type Action string

// Wildcard matches every action on a resource.
const Wildcard Action = "*"

const ownSuffix = "own"

// Permission is a parsed `resource:action[:own]` grant or requirement.
// Universal is the `*` catch-all and ignores the other fields.
type Permission struct {
	Resource  string
	Action    Action
	Own       bool
	Universal bool
}

// ParsePermission parses the textual permission form.
func ParsePermission(raw string) (Permission, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "*" {
		return Permission{Universal: true}, nil
	}
	parts := strings.Split(raw, ":")
	switch {
	case len(parts) == 2:
	case len(parts) == 3 && parts[2] == ownSuffix:
	default:
		return Permission{}, fmt.Errorf("rbac: malformed permission %q", raw)
	}
	if parts[0] == "" || parts[0] == "*" || parts[1] == "" {
		return Permission{}, fmt.Errorf("rbac: malformed permission %q", raw)
	}
	return Permission{
		Resource: parts[0],
		Action:   Action(parts[1]),
		Own:      len(parts) == 3,
	}, nil
}

// Global returns the permission without ownership scoping.
func (p Permission) Global() Permission {
	p.Own = false
	return p
}

// Scoped returns the ownership-scoped variant.
func (p Permission) Scoped() Permission {
	if p.Universal {
		return p
	}
	p.Own = true
	return p
}

func (p Permission) String() string {
	if p.Universal {
		return "*"
	}
	s := p.Resource + ":" + string(p.Action)
	if p.Own {
		s += ":" + ownSuffix
	}
	return s
}
