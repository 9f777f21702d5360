package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/signalbox/internal/cofx"
	"github.com/roach88/signalbox/internal/demo"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/journal"
	"github.com/roach88/signalbox/internal/runtime"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Session string
	Sync    bool
	Timeout time.Duration

	// SessionGenerator overrides session ids (for testing). Defaults to
	// UUIDv7.
	SessionGenerator cofx.Generator
}

// EventFailure is an event that returned an error.
type EventFailure struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Session   string         `json:"session,omitempty"`
	Processed int            `json:"processed"`
	Failures  []EventFailure `json:"failures,omitempty"`
	Pending   int            `json:"pending_timers,omitempty"`
	DB        any            `json:"db"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <event>...",
		Short: "Dispatch events into the demo app",
		Long: `Dispatch events into a fresh demo runtime and print the final app-db.

Each argument is one event written as a YAML or JSON list. Strings starting
with ':' are keywords. Events are queued in argument order; the command
waits until the queue is empty and every dispatch-later timer has fired,
or until --timeout.

With --journal (or journal.enabled in the config) every processed event is
recorded to the SQLite journal under a new session.

Examples:
  signalbox run '[":add-todo", "milk"]' '[":toggle-done", 1]'
  signalbox run --journal ./signalbox.db '[":add-todo", "milk"]'
  signalbox run --sync --format json '[":add-todo", "milk"]'`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "journal session id (default: new UUIDv7)")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "process each event synchronously instead of queueing")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop waiting for pending timers after this long")

	return cmd
}

func runEvents(opts *RunOptions, args []string, cmd *cobra.Command) error {
	events := make([]ir.Vector, len(args))
	for i, arg := range args {
		ev, err := ParseEvent(arg)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("argument %d", i+1), err)
		}
		events[i] = ev
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cfg := opts.Config
	rt := runtime.New(
		runtime.WithLoggers(opts.Logs),
		runtime.WithDelayUnit(cfg.DelayUnit),
		runtime.WithDB(demo.InitialDB()),
	)
	defer rt.Close()
	demo.Setup(rt)

	result := RunResult{}

	if cfg.Journal {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()

		session := opts.Session
		if session == "" {
			gen := opts.SessionGenerator
			if gen == nil {
				gen = cofx.UUIDv7Generator{}
			}
			session = gen.Generate()
		}
		rec, err := journal.Record(ctx, j, rt, session)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start journal session", err)
		}
		defer rec.Stop()
		result.Session = session
		opts.Logs.Log("journal session started", "path", cfg.JournalPath, "session", session)
	}

	// Both run on the draining goroutine, which is this one.
	rt.AddPostEventCallback("cli", func(ir.Vector, []ir.Vector, error) {
		result.Processed++
	})
	rt.SetErrorHandler(func(ev ir.Vector, err error) {
		result.Failures = append(result.Failures, EventFailure{Event: ir.Format(ev), Error: err.Error()})
		opts.Logs.Error("event failed", "event", ir.Format(ev), "error", err)
	})

	for _, ev := range events {
		if !opts.Sync {
			if err := rt.Dispatch(ev); err != nil {
				return WrapExitError(ExitCommandError, "dispatch failed", err)
			}
			continue
		}
		if err := rt.DispatchSync(ev); err != nil {
			result.Failures = append(result.Failures, EventFailure{Event: ir.Format(ev), Error: err.Error()})
		}
	}

	if err := rt.Settle(ctx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "runtime error", err)
		}
		result.Pending = rt.PendingTimers()
		opts.Logs.Warn("stopped before settling", "pending_timers", result.Pending, "reason", err)
	}

	if v, ok := rt.DB().(ir.Value); ok {
		result.DB = ir.ToNative(v)
	}

	f := opts.formatter(cmd)
	if err := f.Emit(result, func(w io.Writer) { writeRunText(w, result, rt.DB()) }); err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed", len(result.Failures)))
	}
	return nil
}

func writeRunText(w io.Writer, r RunResult, db any) {
	if r.Session != "" {
		fmt.Fprintf(w, "session:   %s\n", r.Session)
	}
	fmt.Fprintf(w, "processed: %d\n", r.Processed)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "failed:    %s: %s\n", f.Event, f.Error)
	}
	if r.Pending > 0 {
		fmt.Fprintf(w, "pending:   %d timer(s) abandoned\n", r.Pending)
	}
	if v, ok := db.(ir.Value); ok {
		fmt.Fprintf(w, "db:        %s\n", ir.Format(v))
	}
}

// ParseEvent parses an event written as a YAML or JSON list.
func ParseEvent(s string) (ir.Vector, error) {
	var raw []any
	if err := yaml.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("event %q: %w", s, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("event %q: must be a non-empty list", s)
	}
	v, err := ir.FromNative(raw)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", s, err)
	}
	ev := v.(ir.Vector)
	if _, err := ir.EventID(ev); err != nil {
		return nil, fmt.Errorf("event %q: %w", s, err)
	}
	return ev, nil
}
