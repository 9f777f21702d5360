package cli

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	// Short notice timers so commands settle quickly.
	t.Setenv("SIGNALBOX_DELAY_UNIT", "1us")

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "signalbox", cmd.Use)
	assert.Contains(t, cmd.Long, "subscriptions")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "test", "trace", "replay", "validate"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("journal"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "validate", "x.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "--config", "/nonexistent/signalbox.cue", "validate", "x.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := WrapExitError(ExitFailure, "failed", assert.AnError)
	assert.Equal(t, "failed: "+assert.AnError.Error(), wrapped.Error())
	assert.ErrorIs(t, wrapped, assert.AnError)
}

func TestOutputFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Emit(map[string]int{"n": 1}, nil))
	assert.JSONEq(t, `{"status":"ok","data":{"n":1}}`, buf.String())


	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Emit(nil, func(w io.Writer) { _, _ = w.Write([]byte("hello")) }))
	assert.Equal(t, "hello", buf.String())

	errBuf := &bytes.Buffer{}
	f = &OutputFormatter{Format: "json", Writer: buf, ErrWriter: errBuf}
	f.VerboseLog("hidden")
	assert.Empty(t, errBuf.String())
	f.Verbose = true
	f.VerboseLog("shown %d", 1)
	assert.Equal(t, "shown 1\n", errBuf.String())
}
