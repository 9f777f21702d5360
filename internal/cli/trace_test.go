package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/signalbox/internal/journal"
)

// recordSession runs events into a fresh journal under session and returns
// the journal path.
func recordSession(t *testing.T, session string, events ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	args := append([]string{"--journal", path, "run", "--session", session}, events...)
	_, _, _ = execute(t, args...)
	return path
}

func TestTrace_Latest(t *testing.T) {
	path := recordSession(t, "s1", `[":add-todo", "milk"]`)

	out, _, err := execute(t, "--journal", path, "trace")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: s1\n")
	assert.Contains(t, out, `[1] ✓ [:add-todo "milk"] (queued 0)`)
	assert.Contains(t, out, `[2] ✓ [:clear-notice "added milk"] (queued 0)`)
	assert.Contains(t, out, "2 events, 2 ok, 0 failed")
}

func TestTrace_Filters(t *testing.T) {
	path := recordSession(t, "s1", `[":add-todo", "milk"]`, `[":toggle-done", 9]`)

	out, _, err := execute(t, "--journal", path, "trace", "--event", ":clear-notice")
	require.NoError(t, err)
	assert.Contains(t, out, "1 events, 1 ok, 0 failed")
	assert.NotContains(t, out, ":add-todo")

	out, _, err = execute(t, "--journal", path, "trace", "--event", "add-todo")
	require.NoError(t, err)
	assert.Contains(t, out, "1 events, 1 ok, 0 failed")

	out, _, err = execute(t, "--journal", path, "trace", "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "✗ [:toggle-done 9]")
	assert.Contains(t, out, "no todo 9")
	assert.Contains(t, out, "1 events, 0 ok, 1 failed")
}

func TestTrace_JSON(t *testing.T) {
	path := recordSession(t, "s1", `[":add-todo", "milk"]`)

	out, _, err := execute(t, "--journal", path, "--format", "json", "trace", "--session", "s1")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "s1", resp.Data.Session)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, []any{":add-todo", "milk"}, resp.Data.Timeline[0].Event)
	assert.Equal(t, "ok", resp.Data.Timeline[0].Outcome)
	assert.NotEmpty(t, resp.Data.Timeline[0].ID)
	assert.Equal(t, 2, resp.Data.Stats.Total)
	assert.NotNil(t, resp.Data.InitialDB)
}

func TestTrace_List(t *testing.T) {
	path := recordSession(t, "s1", `[":add-todo", "a"]`)
	_, _, err := execute(t, "--journal", path, "run", "--session", "s2", `[":add-todo", "b"]`)
	require.NoError(t, err)

	out, _, err := execute(t, "--journal", path, "trace", "--list")
	require.NoError(t, err)
	assert.Equal(t, "s1\ns2\n", out)
}

func TestTrace_Errors(t *testing.T) {
	t.Run("missing journal", func(t *testing.T) {
		_, _, err := execute(t, "--journal", filepath.Join(t.TempDir(), "none.db"), "trace")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "journal not found")
	})

	t.Run("no sessions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.db")
		j, err := journal.Open(path)
		require.NoError(t, err)
		require.NoError(t, j.Close())

		_, _, err = execute(t, "--journal", path, "trace")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "journal has no sessions")
	})

	t.Run("unknown session", func(t *testing.T) {
		path := recordSession(t, "s1", `[":add-todo", "a"]`)
		_, _, err := execute(t, "--journal", path, "trace", "--session", "nope")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestBuildTraceResult_Empty(t *testing.T) {
	r := buildTraceResult(journal.Session{ID: "x"}, nil, "", false)
	assert.NotNil(t, r.Timeline)
	assert.Empty(t, r.Timeline)
	assert.Nil(t, r.InitialDB)
}
