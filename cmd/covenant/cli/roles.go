package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/rbac"
)

// Exit codes returned by the roles commands.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitDenied = 10
)

// RolesCLI answers role table questions offline, without a running server.
type RolesCLI struct {
	resolver *rbac.Resolver
}

// NewRolesCLI compiles the role file at path, or the embedded table when empty.
func NewRolesCLI(path string) (*RolesCLI, error) {
	table, err := rbac.LoadRoles(path)
	if err != nil {
		return nil, err
	}
	return &RolesCLI{resolver: rbac.NewResolver(table)}, nil
}

// RolesCheckOptions defines flags for the roles check command.
type RolesCheckOptions struct {
	Role         string
	Permission   string
	ResourceType string
	ResourceID   string
	LinkedID     string
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// RolesCheckResult is the JSON shape printed by roles check.
type RolesCheckResult struct {
	Role         string `json:"role"`
	Permission   string `json:"permission"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Decision     string `json:"decision"`
	ScopeOwnerID string `json:"scope_owner_id,omitempty"`
}

// Run dispatches "list" and "check" subcommands and returns an exit code.
func (c *RolesCLI) Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: covenant roles <list|check> [flags]")
		return ExitError
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("roles list", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return ExitError
		}
		return c.ListCommand(*jsonOut, stdout, stderr)
	case "check":
		fs := flag.NewFlagSet("roles check", flag.ContinueOnError)
		fs.SetOutput(stderr)
		opts := RolesCheckOptions{Stdout: stdout, Stderr: stderr}
		fs.StringVar(&opts.Role, "role", "", "role name")
		fs.StringVar(&opts.Permission, "permission", "", "permission, e.g. members:update")
		fs.StringVar(&opts.ResourceType, "resource-type", "", "resource type for ownership checks")
		fs.StringVar(&opts.ResourceID, "resource-id", "", "resource id for ownership checks")
		fs.StringVar(&opts.LinkedID, "linked-id", "", "principal's linked resource id")
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return ExitError
		}
		return c.CheckCommand(opts)
	default:
		_, _ = fmt.Fprintf(stderr, "roles: unknown command %q\n", args[0])
		return ExitError
	}
}

// ListCommand prints the role table from the highest level down.
func (c *RolesCLI) ListCommand(jsonOutput bool, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	defs := c.resolver.Table().Definitions()
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(defs); err != nil {
			_, _ = fmt.Fprintf(stderr, "roles list: encode json: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tLEVEL\tPERMISSIONS")
	for _, def := range defs {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", def.Name, def.Level, strings.Join(def.Permissions, ","))
	}
	if err := tw.Flush(); err != nil {
		_, _ = fmt.Fprintf(stderr, "roles list: %v\n", err)
		return ExitError
	}
	return ExitOK
}

// CheckCommand resolves one permission query. It exits with ExitDenied when
// the decision is DENY.
func (c *RolesCLI) CheckCommand(opts RolesCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Role) == "" || strings.TrimSpace(opts.Permission) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "roles check: --role and --permission are required")
		return ExitError
	}
	if _, err := rbac.ParsePermission(opts.Permission); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "roles check: %v\n", err)
		return ExitError
	}
	if !c.resolver.KnownRole(opts.Role) {
		_, _ = fmt.Fprintf(opts.Stderr, "roles check: unknown role %q\n", opts.Role)
		return ExitError
	}

	principal := auth.Principal{ID: "cli", Role: opts.Role, LinkedResourceID: opts.LinkedID}
	decision := c.resolver.ResolveScoped(principal, opts.Permission, opts.ResourceType, opts.ResourceID)
	result := RolesCheckResult{
		Role:         opts.Role,
		Permission:   opts.Permission,
		ResourceType: opts.ResourceType,
		ResourceID:   opts.ResourceID,
		Decision:     decision.Kind.String(),
	}
	if decision.Kind == rbac.ScopeFilterRequired {
		result.ScopeOwnerID = decision.ResourceID
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "roles check: encode json: %v\n", err)
			return ExitError
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "%s %s: %s", result.Role, result.Permission, result.Decision)
		if result.ScopeOwnerID != "" {
			_, _ = fmt.Fprintf(opts.Stdout, " (filter by %s)", result.ScopeOwnerID)
		}
		_, _ = fmt.Fprintln(opts.Stdout)
	}
	if decision.Kind == rbac.Deny {
		return ExitDenied
	}
	return ExitOK
}
