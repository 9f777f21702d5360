package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/journal"
)

func TestRun_PrintsFinalDB(t *testing.T) {
	out, _, err := execute(t, "run", `[":add-todo", "milk"]`, `[":toggle-done", 1]`)
	require.NoError(t, err)

	// add-todo, toggle-done, and the clear-notice timer.
	assert.Contains(t, out, "processed: 3\n")
	assert.Contains(t, out, `"title" "milk"`)
	assert.Contains(t, out, `"done" true`)
	assert.Contains(t, out, `"notice" nil`)
	assert.NotContains(t, out, "session:")
}

func TestRun_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "run", `[":add-todo", "milk"]`)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Processed int            `json:"processed"`
			DB        map[string]any `json:"db"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Processed)
	assert.Equal(t, float64(2), resp.Data.DB["next-id"])
	assert.Equal(t, ":all", resp.Data.DB["filter"])
}

func TestRun_FailedEvent(t *testing.T) {
	out, errOut, err := execute(t, "run", `[":toggle-done", 5]`, `[":add-todo", "a"]`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 event(s) failed")

	assert.Contains(t, out, "failed:    [:toggle-done 5]")
	assert.Contains(t, out, "no todo 5")
	// The queue kept draining.
	assert.Contains(t, out, `"title" "a"`)
	assert.Contains(t, errOut, "event failed")
}

func TestRun_Sync(t *testing.T) {
	out, _, err := execute(t, "run", "--sync", `[":add-todo", "a"]`, `[":set-filter", ":bogus"]`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "unknown filter :bogus")
	assert.Contains(t, out, `"next-id" 2`)
}

func TestRun_BadArgument(t *testing.T) {
	tests := []struct {
		name string
		arg  string
	}{
		{name: "not a list", arg: "add-todo"},
		{name: "empty list", arg: "[]"},
		{name: "no keyword id", arg: `["add-todo"]`},
		{name: "float", arg: `[":add-todo", 1.5]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "run", tt.arg)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "argument 1")
		})
	}
}

func TestRun_Journal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	out, errOut, err := execute(t, "--journal", path, "run", "--session", "s1", `[":add-todo", "milk"]`)
	require.NoError(t, err)
	assert.Contains(t, out, "session:   s1\n")
	assert.Contains(t, errOut, "journal session started")

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.ReadEntries(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, ir.Equal(ir.Ev("add-todo", ir.String("milk")), entries[0].Event))
	assert.Equal(t, ir.Keyword("clear-notice"), entries[1].Event[0])
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		in   string
		want ir.Vector
	}{
		{in: `[":add-todo", "milk"]`, want: ir.Ev("add-todo", ir.String("milk"))},
		{in: `[":toggle-done", 3]`, want: ir.Ev("toggle-done", ir.Int(3))},
		{in: `[":set-filter", ":done"]`, want: ir.Ev("set-filter", ir.K("done"))},
		{in: `[":add-todo", "~:literal"]`, want: ir.Ev("add-todo", ir.String(":literal"))},
		{in: "- \":x\"\n- {a: 1}", want: ir.Ev("x", ir.Map{"a": ir.Int(1)})},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEvent(tt.in)
			require.NoError(t, err)
			assert.True(t, ir.Equal(tt.want, got), "got %s", ir.Format(got))
		})
	}
}
