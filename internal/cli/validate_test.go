package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	good := write("good.cue", "log: level: \"debug\"\ndelay_unit: \"10ms\"\n")
	bad := write("bad.cue", "log: level: \"loud\"\n")
	scenario := filepath.Join(scenarioDir, "filters.yaml")
	badScenario := write("bad.yaml", "name: x\n")
	other := write("notes.txt", "hi")

	t.Run("all valid", func(t *testing.T) {
		out, _, err := execute(t, "validate", good, scenario)
		require.NoError(t, err)
		assert.Contains(t, out, "✓ "+good+" (config)")
		assert.Contains(t, out, "✓ "+scenario+" (scenario)")
	})

	t.Run("invalid files", func(t *testing.T) {
		out, _, err := execute(t, "validate", good, bad, badScenario, other)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "3 of 4 files invalid")
		assert.Contains(t, out, "✗ "+bad)
		assert.Contains(t, out, "description is required")
		assert.Contains(t, out, `unknown file type ".txt"`)
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "--format", "json", "validate", bad)
		require.Error(t, err)

		var resp struct {
			Data []FileResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "config", resp.Data[0].Kind)
		assert.False(t, resp.Data[0].Valid)
		assert.Contains(t, resp.Data[0].Error, "bad.cue")
	})
}

func TestValidate_RequiresArgs(t *testing.T) {
	_, _, err := execute(t, "validate")
	require.Error(t, err)
}
