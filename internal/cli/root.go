// Package cli implements the signalbox command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/signalbox/internal/config"
	"github.com/roach88/signalbox/internal/loggers"
)

// RootOptions holds global flags for all commands, and the configuration
// and log channels resolved from them before any subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Journal    string // overrides the configured journal path

	Config config.Config
	Logs   *loggers.Loggers
	flush  func()
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the signalbox CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "signalbox",
		Short: "signalbox - event-driven state runtime",
		Long: `signalbox runs an event-driven application: events go through an
interceptor chain, effects update a single app-db, and subscriptions derive
views from it. The bundled demo is a todo list.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.flush != nil {
				opts.flush()
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a CUE config file")
	cmd.PersistentFlags().StringVar(&opts.Journal, "journal", "", "path to the SQLite event journal")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// resolve loads the configuration, applies flag overrides, and builds the
// log channels. Logs go to the command's stderr.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if o.Journal != "" {
		cfg.JournalPath = o.Journal
		cfg.Journal = true
	}
	o.Config = cfg
	o.Logs, o.flush = cfg.Loggers(cmd.ErrOrStderr())
	return nil
}

// formatter returns an output formatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
