package rbac

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

// RoleDefinition is the configuration form of a role.
type RoleDefinition struct {
	Name        string   `yaml:"name" json:"name"`
	Level       int      `yaml:"level" json:"level"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type roleFile struct {
	Roles []RoleDefinition `yaml:"roles"`
}

// Role is a compiled, immutable permission bundle.
type Role struct {
	def         RoleDefinition
	universal   bool
	exact       map[string]struct{}
	wildcard    map[string]struct{}
	ownExact    map[string]struct{}
	ownWildcard map[string]struct{}
}

// Name returns the role name.
func (r *Role) Name() string { return r.def.Name }

// Level returns the role level.
func (r *Role) Level() int { return r.def.Level }

// Definition returns a copy of the source definition.
func (r *Role) Definition() RoleDefinition {
	def := r.def
	def.Permissions = append([]string(nil), r.def.Permissions...)
	return def
}

func (r *Role) grants(p Permission) bool {
	if r.universal {
		return true
	}
	if p.Universal {
		return false
	}
	key := p.Resource + ":" + string(p.Action)
	if _, ok := r.exact[key]; ok {
		return true
	}
	if _, ok := r.wildcard[p.Resource]; ok {
		return true
	}
	if !p.Own {
		return false
	}
	return r.grantsOwn(p)
}

func (r *Role) grantsOwn(p Permission) bool {
	if _, ok := r.ownExact[p.Resource+":"+string(p.Action)]; ok {
		return true
	}
	_, ok := r.ownWildcard[p.Resource]
	return ok
}

// RoleTable is the compiled role to permission table. It is built once at
// start-up and is safe for concurrent reads.
type RoleTable struct {
	roles   map[string]*Role
	ordered []*Role
	top     *Role
}

// CompileRoles validates definitions and compiles them into a RoleTable.
func CompileRoles(defs []RoleDefinition) (*RoleTable, error) {
	if len(defs) == 0 {
		return nil, errors.New("rbac: role table is empty")
	}
	table := &RoleTable{roles: make(map[string]*Role, len(defs))}
	levels := make(map[int]string, len(defs))
	for _, def := range defs {
		def.Name = strings.ToLower(strings.TrimSpace(def.Name))
		if def.Name == "" {
			return nil, errors.New("rbac: role name required")
		}
		if _, dup := table.roles[def.Name]; dup {
			return nil, fmt.Errorf("rbac: duplicate role %q", def.Name)
		}
		if other, dup := levels[def.Level]; dup {
			return nil, fmt.Errorf("rbac: roles %q and %q share level %d", other, def.Name, def.Level)
		}
		levels[def.Level] = def.Name
		role, err := compileRole(def)
		if err != nil {
			return nil, err
		}
		table.roles[def.Name] = role
		table.ordered = append(table.ordered, role)
	}
	sort.Slice(table.ordered, func(i, j int) bool {
		return table.ordered[i].def.Level > table.ordered[j].def.Level
	})
	table.top = table.ordered[0]
	if !table.top.universal {
		return nil, fmt.Errorf("rbac: top role %q must hold \"*\"", table.top.def.Name)
	}
	return table, nil
}

func compileRole(def RoleDefinition) (*Role, error) {
	role := &Role{
		def:         def,
		exact:       make(map[string]struct{}),
		wildcard:    make(map[string]struct{}),
		ownExact:    make(map[string]struct{}),
		ownWildcard: make(map[string]struct{}),
	}
	normalized := make([]string, 0, len(def.Permissions))
	for _, raw := range def.Permissions {
		perm, err := ParsePermission(raw)
		if err != nil {
			return nil, fmt.Errorf("rbac: role %q: %w", def.Name, err)
		}
		normalized = append(normalized, perm.String())
		switch {
		case perm.Universal:
			role.universal = true
		case perm.Own && perm.Action == Wildcard:
			role.ownWildcard[perm.Resource] = struct{}{}
		case perm.Own:
			role.ownExact[perm.Resource+":"+string(perm.Action)] = struct{}{}
		case perm.Action == Wildcard:
			role.wildcard[perm.Resource] = struct{}{}
		default:
			role.exact[perm.Resource+":"+string(perm.Action)] = struct{}{}
		}
	}
	sort.Strings(normalized)
	role.def.Permissions = normalized
	return role, nil
}

// ParseRoles compiles a YAML role document.
func ParseRoles(data []byte) (*RoleTable, error) {
	var file roleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rbac: parse roles: %w", err)
	}
	return CompileRoles(file.Roles)
}

// DefaultRoles compiles the embedded role table.
func DefaultRoles() (*RoleTable, error) {
	return ParseRoles(defaultRolesYAML)
}

// LoadRoles compiles the role file at path, or the embedded table when path is empty.
func LoadRoles(path string) (*RoleTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRoles()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read roles: %w", err)
	}
	return ParseRoles(data)
}

// Role looks up a compiled role by name.
func (t *RoleTable) Role(name string) (*Role, bool) {
	if t == nil {
		return nil, false
	}
	role, ok := t.roles[strings.ToLower(strings.TrimSpace(name))]
	return role, ok
}

// Top returns the name of the highest-level role.
func (t *RoleTable) Top() string {
	if t == nil || t.top == nil {
		return ""
	}
	return t.top.def.Name
}

// Definitions lists roles ordered from the highest level down.
func (t *RoleTable) Definitions() []RoleDefinition {
	if t == nil {
		return nil
	}
	defs := make([]RoleDefinition, 0, len(t.ordered))
	for _, role := range t.ordered {
		defs = append(defs, role.Definition())
	}
	return defs
}
