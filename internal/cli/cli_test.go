package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCLI(t *testing.T) {
	InitCLI()
	// Second call is a no-op.
	InitCLI()

	root := GetRootCommand()
	require.NotNil(t, root)
	assert.Equal(t, "nango", root.Use)

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["dryrun"])
	assert.True(t, names["version"])
}

func TestExecuteVersion(t *testing.T) {
	InitCLI()
	assert.Equal(t, 0, ExecuteWithErrorCode([]string{"version"}))
}

func TestExecuteUnknownCommand(t *testing.T) {
	InitCLI()
	assert.Equal(t, 1, ExecuteWithErrorCode([]string{"no-such-command"}))
}

func TestDryRunRequiresFlags(t *testing.T) {
	InitCLI()
	// Missing the required provider-config-key flag.
	assert.Equal(t, 1, ExecuteWithErrorCode([]string{"dryrun", "issues", "conn-1"}))
}

func TestVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
}
