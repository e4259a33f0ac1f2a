package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHelp(t *testing.T) {
	setupCLI(t)

	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"run", "task", "loop", "hooks", "serve", "config", "experts", "stats", "workflow", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestUnknownCommand(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "frobnicate")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	setupCLI(t)
	SetVersion("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersion("", "", "") })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "switchboard 1.2.3")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "2026-01-01")
	assert.Equal(t, "1.2.3", GetVersion())
}

func TestExperts(t *testing.T) {
	dir, _ := setupCLI(t)
	writeFile(t, dir+"/.switchboard.yaml", `
experts:
  local:
    model: llama3.2
fallback_chains:
  engineer: [local]
`)

	out, err := execute(t, "experts")
	require.NoError(t, err)
	assert.Contains(t, out, "engineer")
	assert.Contains(t, out, "llama3.2")
	assert.Contains(t, out, "local")
}

func TestExperts_JSON(t *testing.T) {
	setupCLI(t)

	out, err := execute(t, "experts", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "reviewer"`)
	assert.Contains(t, out, `"fallbacks": [`)
}

func TestLogLevelFlagOverridesConfig(t *testing.T) {
	dir, _ := setupCLI(t)
	t.Setenv("SWITCHBOARD_LOG_LEVEL", "")
	writeFile(t, dir+"/.switchboard.yaml", "log:\n  level: warn\n")

	out, err := execute(t, "config", "show", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: warn")
}
