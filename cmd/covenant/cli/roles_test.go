package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolesCheckJSON(t *testing.T) {
	cli, err := NewRolesCLI("")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.CheckCommand(RolesCheckOptions{
		Role:       "staff",
		Permission: "members:update",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, ExitOK, code, stderr.String())

	var result RolesCheckResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "ALLOW_GLOBAL", result.Decision)
}

func TestRolesCheckOwnershipScope(t *testing.T) {
	cli, err := NewRolesCLI("")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.Run([]string{"check", "--role", "viewer", "--permission", "members:read", "--resource-type", "member", "--linked-id", "m-7"}, stdout, new(bytes.Buffer))
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "viewer members:read: SCOPE_FILTER_REQUIRED (filter by m-7)\n", stdout.String())

	stdout.Reset()
	code = cli.Run([]string{"check", "--role", "viewer", "--permission", "members:read", "--resource-type", "member", "--resource-id", "m-8", "--linked-id", "m-7"}, stdout, new(bytes.Buffer))
	assert.Equal(t, ExitDenied, code)
	assert.Contains(t, stdout.String(), "DENY")
}

func TestRolesCheckRejectsBadInput(t *testing.T) {
	cli, err := NewRolesCLI("")
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	assert.Equal(t, ExitError, cli.CheckCommand(RolesCheckOptions{Role: "staff", Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.Contains(t, stderr.String(), "--role and --permission are required")

	stderr.Reset()
	assert.Equal(t, ExitError, cli.CheckCommand(RolesCheckOptions{Role: "pastor", Permission: "members:read", Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.Contains(t, stderr.String(), "unknown role")
}

func TestRolesListFromFile(t *testing.T) {
	doc := `roles:
  - name: owner
    level: 100
    permissions: ["*"]
  - name: usher
    level: 5
    permissions: ["members:read:own"]
`
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cli, err := NewRolesCLI(path)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	require.Equal(t, ExitOK, cli.Run([]string{"list"}, stdout, new(bytes.Buffer)))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "owner"))
	assert.True(t, strings.HasPrefix(lines[2], "usher"))
	assert.Contains(t, lines[2], "members:read:own")
}

func TestRolesUnknownCommand(t *testing.T) {
	cli, err := NewRolesCLI("")
	require.NoError(t, err)
	stderr := new(bytes.Buffer)
	assert.Equal(t, ExitError, cli.Run([]string{"grant"}, new(bytes.Buffer), stderr))
	assert.Contains(t, stderr.String(), "unknown command")
}
