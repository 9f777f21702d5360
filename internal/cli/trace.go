package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Session    string
	Event      string // optional event id filter
	List       bool
	FailedOnly bool
}

// TraceEvent is one journalled event in the timeline.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Event     any    `json:"event"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	Remaining int    `json:"remaining"`
}

// TraceStats holds summary statistics for a session.
type TraceStats struct {
	Total  int `json:"total"`
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session   string       `json:"session"`
	InitialDB any          `json:"initial_db,omitempty"`
	Timeline  []TraceEvent `json:"timeline"`
	Stats     TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journalled events of a session",
		Long: `Show the events a session processed, in processing order, with their
outcome and how many events were still queued after each.

The session defaults to the most recent one in the journal.

Examples:
  signalbox trace --journal ./signalbox.db
  signalbox trace --journal ./signalbox.db --session 0190... --event :add-todo
  signalbox trace --journal ./signalbox.db --list`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: latest)")
	cmd.Flags().StringVar(&opts.Event, "event", "", "only show events with this id")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list session ids instead")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only show failed events")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	j, err := openJournal(opts.RootOptions)
	if err != nil {
		return err
	}
	defer j.Close()

	f := opts.formatter(cmd)

	if opts.List {
		ids, err := j.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		return f.Emit(ids, func(w io.Writer) {
			for _, id := range ids {
				fmt.Fprintln(w, id)
			}
		})
	}

	session, err := resolveSession(ctx, j, opts.Session)
	if err != nil {
		return err
	}
	s, err := j.ReadSession(ctx, session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}
	entries, err := j.ReadEntries(ctx, session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read entries", err)
	}

	filter := ir.Keyword(strings.TrimPrefix(opts.Event, ":"))

	result := buildTraceResult(s, entries, filter, opts.FailedOnly)
	return f.Emit(result, func(w io.Writer) { writeTraceText(w, result) })
}

func buildTraceResult(s journal.Session, entries []journal.Entry, filter ir.Keyword, failedOnly bool) TraceResult {
	result := TraceResult{
		Session:  s.ID,
		Timeline: []TraceEvent{},
	}
	if s.InitialDB != nil {
		result.InitialDB = ir.ToNative(s.InitialDB)
	}

	for _, e := range entries {
		id, _ := ir.EventID(e.Event)
		if filter != "" && id != filter {
			continue
		}
		if failedOnly && e.Outcome != journal.OutcomeFailed {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:       e.Seq,
			ID:        e.ID,
			Event:     ir.ToNative(e.Event),
			Outcome:   string(e.Outcome),
			Error:     e.Error,
			Remaining: e.Remaining,
		})
		result.Stats.Total++
		if e.Outcome == journal.OutcomeFailed {
			result.Stats.Failed++
		} else {
			result.Stats.OK++
		}
	}
	return result
}

func writeTraceText(w io.Writer, r TraceResult) {
	fmt.Fprintf(w, "Session: %s\n\n", r.Session)
	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	for _, te := range r.Timeline {
		ev, _ := ir.FromNative(te.Event)
		mark := "✓"
		if te.Outcome == string(journal.OutcomeFailed) {
			mark = "✗"
		}
		fmt.Fprintf(w, "[%d] %s %s (queued %d)\n", te.Seq, mark, ir.Format(ev), te.Remaining)
		if te.Error != "" {
			fmt.Fprintf(w, "      %s\n", te.Error)
		}
	}
	fmt.Fprintf(w, "\n%d events, %d ok, %d failed\n", r.Stats.Total, r.Stats.OK, r.Stats.Failed)
}

// openJournal opens the configured journal. The file must already exist.
func openJournal(opts *RootOptions) (*journal.Journal, error) {
	path := opts.Config.JournalPath
	if err := requireFile(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

// resolveSession returns id, or the latest session when id is empty.
func resolveSession(ctx context.Context, j *journal.Journal, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	latest, err := j.LatestSession(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NewExitError(ExitCommandError, "journal has no sessions")
	}
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to find latest session", err)
	}
	return latest, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
