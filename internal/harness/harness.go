package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/signalbox/internal/cofx"
	"github.com/roach88/signalbox/internal/demo"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/journal"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/runtime"
	"github.com/roach88/signalbox/internal/testutil"
)

// traceCallbackID is the post-event callback id the harness traces under.
const traceCallbackID = "harness"

// epoch is the fake timer's start time.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution engine. Each run gets a fresh runtime
// driven by a manual scheduler and a fake timer, so results are
// reproducible.
type Harness struct {
	rt     *runtime.Runtime
	sched  *testutil.ManualScheduler
	timer  *testutil.FakeTimer
	clock  *testutil.DeterministicClock
	unit   time.Duration
	result *Result
}

type options struct {
	logs    *loggers.Loggers
	setup   journal.Setup
	journal *journal.Journal
	ids     cofx.Generator
	unit    time.Duration
}

// Option configures Run.
type Option func(*options)

// WithLoggers routes runtime logs. Logs are discarded by default.
func WithLoggers(l *loggers.Loggers) Option {
	return func(o *options) { o.logs = l }
}

// WithApp replaces demo.Setup as the application under test.
func WithApp(setup journal.Setup) Option {
	return func(o *options) { o.setup = setup }
}

// WithJournal records the run into j under a session id drawn from ids,
// then replays it. Replay divergences fail the scenario.
func WithJournal(j *journal.Journal, ids cofx.Generator) Option {
	return func(o *options) {
		o.journal = j
		o.ids = ids
	}
}

// WithDelayUnit sets the unit for dispatch-later delays and advance steps.
// Defaults to a millisecond.
func WithDelayUnit(d time.Duration) Option {
	return func(o *options) { o.unit = d }
}

// Run executes a scenario and returns the result. An error means the
// scenario could not run at all; assertion failures are reported in the
// result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logs:  loggers.New(slog.New(slog.NewTextHandler(io.Discard, nil))),
		setup: demo.Setup,
		unit:  time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var db ir.Value = demo.InitialDB()
	if scenario.DB != nil {
		v, err := ir.FromNative(scenario.DB)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		db = v
	}

	h := &Harness{
		sched:  &testutil.ManualScheduler{},
		timer:  testutil.NewFakeTimer(epoch),
		clock:  testutil.NewDeterministicClock(),
		unit:   o.unit,
		result: NewResult(),
	}
	h.rt = runtime.New(
		runtime.WithLoggers(o.logs),
		runtime.WithScheduler(h.sched),
		runtime.WithTimer(h.timer),
		runtime.WithClock(h.timer),
		runtime.WithIDGenerator(&cofx.SeqGenerator{Prefix: "id"}),
		runtime.WithDelayUnit(o.unit),
		runtime.WithDB(db),
	)
	defer h.rt.Close()
	o.setup(h.rt)

	// Failures show up in the trace.
	h.rt.SetErrorHandler(func(ir.Vector, error) {})

	if err := h.executeSetup(scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	var rec *journal.Recorder
	if o.journal != nil {
		var err error
		rec, err = journal.Record(ctx, o.journal, h.rt, o.ids.Generate())
		if err != nil {
			return nil, err
		}
	}
	h.rt.AddPostEventCallback(traceCallbackID, h.trace)

	for i := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.executeStep(i, &scenario.Steps[i])
	}
	h.sched.RunAll()
	h.rt.RemovePostEventCallback(traceCallbackID)

	for _, msg := range h.evaluate(scenario.Assertions) {
		h.result.AddError(msg)
	}
	h.result.DB, _ = h.rt.DB().(ir.Value)

	if rec != nil {
		rec.Stop()
		rr, err := journal.Replay(ctx, o.journal, rec.Session(), o.setup, runtime.WithLoggers(o.logs))
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		for _, d := range rr.Divergences {
			h.result.AddError("replay: " + d.String())
		}
	}

	return h.result, nil
}

// RunAll runs scenarios in order. It stops at the first scenario that
// cannot run.
func RunAll(ctx context.Context, scenarios []*Scenario, opts ...Option) (map[string]*Result, error) {
	results := make(map[string]*Result, len(scenarios))
	for _, s := range scenarios {
		r, err := Run(ctx, s, opts...)
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		results[s.Name] = r
	}
	return results, nil
}

func (h *Harness) trace(ev ir.Vector, remaining []ir.Vector, err error) {
	h.result.AddTrace(h.clock.Next(), ev, len(remaining), err)
}

// executeSetup processes setup events synchronously, then lets anything
// they queued drain. Timers they started stay pending.
func (h *Harness) executeSetup(setup [][]any) error {
	for i, raw := range setup {
		ev, err := toEvent(raw)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if err := h.rt.DispatchSync(ev); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	h.sched.RunAll()
	return nil
}

func (h *Harness) executeStep(index int, st *Step) {
	where := fmt.Sprintf("steps[%d]", index)

	switch {
	case st.Dispatch != nil:
		ev, _ := toEvent(st.Dispatch)
		if err := h.rt.Dispatch(ev); err != nil {
			h.result.AddError(fmt.Sprintf("%s: dispatch %s: %v", where, ir.Format(ev), err))
		}

	case st.DispatchSync != nil:
		ev, _ := toEvent(st.DispatchSync)
		err := h.rt.DispatchSync(ev)
		switch {
		case err == nil && st.Error != "":
			h.result.AddError(fmt.Sprintf("%s: %s succeeded, expected error containing %q", where, ir.Format(ev), st.Error))
		case err != nil && st.Error == "":
			h.result.AddError(fmt.Sprintf("%s: %s: %v", where, ir.Format(ev), err))
		case err != nil && !strings.Contains(err.Error(), st.Error):
			h.result.AddError(fmt.Sprintf("%s: %s: error %q does not contain %q", where, ir.Format(ev), err.Error(), st.Error))
		}

	case st.Advance > 0:
		h.timer.Advance(time.Duration(st.Advance) * h.unit)
		h.sched.RunAll()

	case st.Run:
		h.sched.RunAll()

	case st.Purge:
		h.rt.PurgeQueue()
	}

	for _, msg := range h.evaluate(st.Expect) {
		h.result.AddError(where + ": " + msg)
	}
}
