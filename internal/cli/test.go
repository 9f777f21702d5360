package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/signalbox/internal/cofx"
	"github.com/roach88/signalbox/internal/harness"
	"github.com/roach88/signalbox/internal/journal"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario name glob
	Replay bool   // record each scenario and replay it
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [scenarios-dir]",
		Short: "Run scenarios against the demo app",
		Long: `Run YAML scenarios against the demo app and check their assertions.

The directory defaults to the configured scenarios path. With --replay each
scenario is also recorded to a scratch journal and replayed; a replay that
does not reproduce the recorded db fails the scenario.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  signalbox test
  signalbox test ./testdata/scenarios --filter "add_*"
  signalbox test --replay --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.Config.Scenarios
			if len(args) == 1 {
				dir = args[0]
			}
			return runTests(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by file name glob")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "record and replay each scenario")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	hopts := []harness.Option{
		harness.WithLoggers(opts.Logs),
		harness.WithDelayUnit(opts.Config.DelayUnit),
	}
	if opts.Replay {
		scratch, err := os.MkdirTemp("", "signalbox-test-")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create scratch dir", err)
		}
		defer os.RemoveAll(scratch)

		j, err := journal.Open(filepath.Join(scratch, "journal.db"))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open scratch journal", err)
		}
		defer j.Close()
		hopts = append(hopts, harness.WithJournal(j, &cofx.SeqGenerator{Prefix: "scenario"}))
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	f := opts.formatter(cmd)
	for _, file := range files {
		f.VerboseLog("running %s", file)
		sr := runScenario(cmd.Context(), file, hopts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if err := f.Emit(result, func(w io.Writer) { writeTestText(w, result) }); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files under dir.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario loads and runs one scenario file. Load and execution errors
// become a failed result.
func runScenario(ctx context.Context, file string, hopts []harness.Option) ScenarioResult {
	if ctx == nil {
		ctx = context.Background()
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	result, err := harness.Run(ctx, scenario, hopts...)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	return ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Events: len(result.Trace),
		Errors: result.Errors,
	}
}

func writeTestText(w io.Writer, r TestResult) {
	if r.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s (%d events)\n", s.Name, s.Events)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}
