// Package config loads signalbox settings.
//
// Precedence, lowest first: Default, the CUE file, SIGNALBOX_* environment
// variables, command-line flags (applied by the caller). The file is
// validated against the #Config schema embedded in schema.cue, so unknown
// fields and bad values are rejected with a position.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/caarlos0/env/v11"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved configuration.
type Config struct {
	LogLevel    string
	LogFormat   string
	LogBackend  string
	JournalPath string
	Journal     bool
	DelayUnit   time.Duration
	Scenarios   string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		LogBackend:  "slog",
		JournalPath: "signalbox.db",
		Journal:     false,
		DelayUnit:   time.Millisecond,
		Scenarios:   "testdata/scenarios",
	}
}

// fileConfig mirrors #Config.
type fileConfig struct {
	Log *struct {
		Level   *string `json:"level"`
		Format  *string `json:"format"`
		Backend *string `json:"backend"`
	} `json:"log"`
	Journal *struct {
		Path    *string `json:"path"`
		Enabled *bool   `json:"enabled"`
	} `json:"journal"`
	DelayUnit *string `json:"delay_unit"`
	Scenarios *string `json:"scenarios"`
}

// envConfig holds the raw environment overrides.
type envConfig struct {
	LogLevel    string        `env:"SIGNALBOX_LOG_LEVEL"`
	LogFormat   string        `env:"SIGNALBOX_LOG_FORMAT"`
	LogBackend  string        `env:"SIGNALBOX_LOG_BACKEND"`
	JournalPath string        `env:"SIGNALBOX_JOURNAL"`
	Journal     *bool         `env:"SIGNALBOX_JOURNAL_ENABLED"`
	DelayUnit   time.Duration `env:"SIGNALBOX_DELAY_UNIT"`
	Scenarios   string        `env:"SIGNALBOX_SCENARIOS"`
}

// Error is a configuration error. Pos is set for errors in a CUE file.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load resolves the configuration from path (skipped when empty) and the
// process environment.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment. nil means the process
// environment.
func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.applyCUE(path, data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(environ); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse validates CUE source against the schema and applies it over the
// defaults. filename is used in error positions.
func Parse(filename string, data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.applyCUE(filename, data); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyCUE(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}

	var fc fileConfig
	if err := v.Decode(&fc); err != nil {
		return formatCUEError(err)
	}

	if fc.Log != nil {
		setString(&c.LogLevel, fc.Log.Level)
		setString(&c.LogFormat, fc.Log.Format)
		setString(&c.LogBackend, fc.Log.Backend)
	}
	if fc.Journal != nil {
		setString(&c.JournalPath, fc.Journal.Path)
		if fc.Journal.Enabled != nil {
			c.Journal = *fc.Journal.Enabled
		}
	}
	if fc.DelayUnit != nil {
		d, err := time.ParseDuration(*fc.DelayUnit)
		if err != nil {
			return &Error{Field: "delay_unit", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("delay_unit")).Pos()}
		}
		c.DelayUnit = d
	}
	setString(&c.Scenarios, fc.Scenarios)
	return nil
}

func (c *Config) applyEnv(environ map[string]string) error {
	var raw envConfig
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	override(&c.LogLevel, raw.LogLevel)
	override(&c.LogFormat, raw.LogFormat)
	override(&c.LogBackend, raw.LogBackend)
	override(&c.JournalPath, raw.JournalPath)
	override(&c.Scenarios, raw.Scenarios)
	if raw.Journal != nil {
		c.Journal = *raw.Journal
	}
	if raw.DelayUnit != 0 {
		c.DelayUnit = raw.DelayUnit
	}
	return nil
}

// Validate checks values that did not come through the CUE schema.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return &Error{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.LogFormat)}
	}
	switch c.LogBackend {
	case "slog", "zap":
	default:
		return &Error{Field: "log.backend", Message: fmt.Sprintf("unknown backend %q", c.LogBackend)}
	}
	if c.DelayUnit <= 0 {
		return &Error{Field: "delay_unit", Message: "must be positive"}
	}
	if c.Journal && c.JournalPath == "" {
		return &Error{Field: "journal.path", Message: "required when the journal is enabled"}
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
