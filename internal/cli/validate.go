package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/signalbox/internal/config"
	"github.com/roach88/signalbox/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// FileResult is the validation result for one file.
type FileResult struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"` // "config" or "scenario"
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate config and scenario files",
		Long: `Validate CUE config files against the config schema and YAML scenario
files against the scenario format, without running anything.

Files ending in .cue are configs; .yaml and .yml files are scenarios.

Examples:
  signalbox validate signalbox.cue
  signalbox validate testdata/scenarios/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	results := make([]FileResult, 0, len(paths))
	invalid := 0
	for _, p := range paths {
		r := validateFile(p)
		if !r.Valid {
			invalid++
		}
		results = append(results, r)
	}

	f := opts.formatter(cmd)
	if err := f.Emit(results, func(w io.Writer) { writeValidateText(w, results) }); err != nil {
		return err
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files invalid", invalid, len(results)))
	}
	return nil
}

func validateFile(path string) FileResult {
	r := FileResult{Path: path}

	var err error
	switch filepath.Ext(path) {
	case ".cue":
		r.Kind = "config"
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			_, err = config.Parse(path, data)
		}
	case ".yaml", ".yml":
		r.Kind = "scenario"
		_, err = harness.LoadScenario(path)
	default:
		err = fmt.Errorf("unknown file type %q", filepath.Ext(path))
	}

	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Valid = true
	return r
}

func writeValidateText(w io.Writer, results []FileResult) {
	for _, r := range results {
		if r.Valid {
			fmt.Fprintf(w, "✓ %s (%s)\n", r.Path, r.Kind)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n    %s\n", r.Path, r.Error)
	}
}

// requireFile fails unless path names an existing regular file.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
