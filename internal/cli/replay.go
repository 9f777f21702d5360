package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/signalbox/internal/demo"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/journal"
	"github.com/roach88/signalbox/internal/runtime"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Session string
	All     bool
}

// ReplayOutput is the result for one session.
type ReplayOutput struct {
	Session     string   `json:"session"`
	Events      int      `json:"events"`
	OK          bool     `json:"ok"`
	Divergences []string `json:"divergences,omitempty"`
	DB          any      `json:"db,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a journalled session and verify it",
		Long: `Replay re-dispatches a session's journalled events into a fresh demo
runtime seeded with the session's initial db, and checks that every event
has the same outcome and produces the same db as recorded.

Exit codes:
  0 - Replay matched
  1 - Replay diverged
  2 - Command error (journal or session not found)

Examples:
  signalbox replay --journal ./signalbox.db
  signalbox replay --journal ./signalbox.db --session 0190...
  signalbox replay --journal ./signalbox.db --all --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: latest)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "replay every session")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	j, err := openJournal(opts.RootOptions)
	if err != nil {
		return err
	}
	defer j.Close()

	var sessions []string
	if opts.All {
		sessions, err = j.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	} else {
		s, err := resolveSession(ctx, j, opts.Session)
		if err != nil {
			return err
		}
		sessions = []string{s}
	}

	f := opts.formatter(cmd)
	outputs := make([]ReplayOutput, 0, len(sessions))
	diverged := 0
	for _, s := range sessions {
		f.VerboseLog("replaying %s", s)
		rr, err := journal.Replay(ctx, j, s, demo.Setup,
			runtime.WithLoggers(opts.Logs),
			runtime.WithDelayUnit(opts.Config.DelayUnit),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "replay failed", err)
		}

		out := ReplayOutput{Session: s, Events: rr.Events, OK: rr.OK()}
		for _, d := range rr.Divergences {
			out.Divergences = append(out.Divergences, d.String())
		}
		if v, ok := rr.DB.(ir.Value); ok {
			out.DB = ir.ToNative(v)
		}
		if !out.OK {
			diverged++
		}
		outputs = append(outputs, out)
	}

	if err := f.Emit(outputs, func(w io.Writer) { writeReplayText(w, outputs) }); err != nil {
		return err
	}
	if diverged > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d session(s) diverged", diverged))
	}
	return nil
}

func writeReplayText(w io.Writer, outputs []ReplayOutput) {
	for _, o := range outputs {
		if o.OK {
			fmt.Fprintf(w, "✓ %s: %d events replayed, no divergence\n", o.Session, o.Events)
			continue
		}
		fmt.Fprintf(w, "✗ %s: %d events replayed, %d divergence(s)\n", o.Session, o.Events, len(o.Divergences))
		for _, d := range o.Divergences {
			fmt.Fprintf(w, "    %s\n", d)
		}
	}
}
