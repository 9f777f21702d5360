package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

func TestTestCommand_RepositoryScenarios(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ add_and_toggle (5 events)")
	assert.Contains(t, out, "✓ clear_completed (2 events)")
	assert.Contains(t, out, "0 failed")
}

func TestTestCommand_Replay(t *testing.T) {
	out, _, err := execute(t, "test", "--replay", scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "0 failed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", "--filter", "add_*", scenarioDir)
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, "add_and_toggle", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	failing := `
name: failing
description: expects the wrong count
steps:
  - dispatch_sync: [":add-todo", "a"]
assertions:
  - type: trace_count
    event: ":add-todo"
    count: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failing), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 of 2 scenarios failed")
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "Assertion failed: trace_count")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_Empty(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_DefaultDirFromConfig(t *testing.T) {
	t.Setenv("SIGNALBOX_SCENARIOS", scenarioDir)
	out, _, err := execute(t, "test", "--filter", "clear_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestFindScenarioFiles_BadPattern(t *testing.T) {
	_, err := findScenarioFiles(scenarioDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
