package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want func(c *Config)
	}{
		{
			name: "empty file keeps defaults",
			src:  ``,
			want: func(*Config) {},
		},
		{
			name: "all fields",
			src: `
				log: {level: "debug", format: "json", backend: "zap"}
				journal: {path: "/tmp/j.db", enabled: true}
				delay_unit: "10ms"
				scenarios: "scenarios"
			`,
			want: func(c *Config) {
				c.LogLevel = "debug"
				c.LogFormat = "json"
				c.LogBackend = "zap"
				c.JournalPath = "/tmp/j.db"
				c.Journal = true
				c.DelayUnit = 10 * time.Millisecond
				c.Scenarios = "scenarios"
			},
		},
		{
			name: "partial log block",
			src:  `log: level: "warn"`,
			want: func(c *Config) { c.LogLevel = "warn" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse("test.cue", []byte(tt.src))
			require.NoError(t, err)

			want := Default()
			tt.want(&want)
			assert.Equal(t, want, got)
		})
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown level", `log: level: "loud"`},
		{"unknown field", `colour: "blue"`},
		{"bad delay", `delay_unit: "soon"`},
		{"wrong type", `journal: enabled: "yes"`},
		{"syntax", `log: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestParse_ErrorHasPosition(t *testing.T) {
	_, err := Parse("bad.cue", []byte("log: {\n\tlevel: \"loud\"\n}\n"))
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, cfgErr.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue:")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signalbox.cue")
	require.NoError(t, os.WriteFile(path, []byte(`log: level: "debug"
delay_unit: "5ms"
`), 0o644))

	cfg, err := load(path, map[string]string{
		"SIGNALBOX_LOG_LEVEL":       "error",
		"SIGNALBOX_JOURNAL":         "env.db",
		"SIGNALBOX_JOURNAL_ENABLED": "true",
	})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 5*time.Millisecond, cfg.DelayUnit)
	assert.Equal(t, "env.db", cfg.JournalPath)
	assert.True(t, cfg.Journal)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := load("", map[string]string{"SIGNALBOX_DELAY_UNIT": "1s"})
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.DelayUnit)
}

func TestLoad_InvalidEnv(t *testing.T) {
	_, err := load("", map[string]string{"SIGNALBOX_LOG_FORMAT": "xml"})
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "log.format", cfgErr.Field)

	_, err = load("", map[string]string{"SIGNALBOX_DELAY_UNIT": "later"})
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestLoggers(t *testing.T) {
	for _, backend := range []string{"slog", "zap"} {
		t.Run(backend, func(t *testing.T) {
			cfg := Default()
			cfg.LogBackend = backend
			cfg.LogLevel = "warn"

			var buf bytes.Buffer
			logs, flush := cfg.Loggers(&buf)
			logs.Log("hidden")
			logs.Warn("shown", "kind", "dispatch")
			flush()

			out := buf.String()
			assert.NotContains(t, out, "hidden")
			assert.Contains(t, out, "shown")
			assert.Contains(t, out, "dispatch")
		})
	}
}

func TestSlogLogger_JSON(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	cfg.SlogLogger(&buf).Info("hello", "n", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"n":1`)
}
