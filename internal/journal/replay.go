package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/runtime"
)

// Setup registers an application's handlers on a fresh runtime.
type Setup func(rt *runtime.Runtime)

// Divergence is a replayed event whose result differs from the journal.
type Divergence struct {
	Seq   int64
	Event ir.Vector
	Field string // "outcome" or "db"
	Want  string
	Got   string
}

func (d Divergence) String() string {
	return fmt.Sprintf("seq %d %s: %s: want %s, got %s", d.Seq, ir.Format(d.Event), d.Field, d.Want, d.Got)
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Session     string
	Events      int
	Divergences []Divergence
	DB          any
}

// OK reports whether the replay matched the journal.
func (r ReplayResult) OK() bool {
	return len(r.Divergences) == 0
}

// Replay re-runs a session in a fresh runtime built by setup and compares
// every outcome and db snapshot against the journal.
//
// Each entry runs with DispatchSync. Follow-on events are journalled as
// entries of their own, so the replay runtime drops whatever an event
// queues or schedules instead of running it twice. Handlers that read
// nondeterministic coeffects need opts that pin them, such as
// runtime.WithClock.
func Replay(ctx context.Context, j *Journal, session string, setup Setup, opts ...runtime.Option) (ReplayResult, error) {
	s, err := j.ReadSession(ctx, session)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", session, err)
	}
	entries, err := j.ReadEntries(ctx, session)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", session, err)
	}

	base := []runtime.Option{
		runtime.WithScheduler(discardScheduler{}),
		runtime.WithTimer(discardTimer{}),
	}
	if s.InitialDB != nil {
		base = append(base, runtime.WithDB(s.InitialDB))
	}
	rt := runtime.New(append(base, opts...)...)
	defer rt.Close()
	setup(rt)

	result := ReplayResult{Session: session}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		evErr := rt.DispatchSync(e.Event)
		rt.PurgeQueue()
		result.Events++

		got := OutcomeOK
		if evErr != nil {
			got = OutcomeFailed
		}
		if got != e.Outcome {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: e.Seq, Event: e.Event, Field: "outcome",
				Want: string(e.Outcome), Got: string(got),
			})
		}

		if e.DB == nil {
			continue
		}
		want, gotDB, same := compareDB(e.DB, rt.DB())
		if !same {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: e.Seq, Event: e.Event, Field: "db",
				Want: want, Got: gotDB,
			})
		}
	}

	result.DB = rt.DB()
	rt.Loggers().Debug("replay finished",
		"session", session,
		"events", result.Events,
		"divergences", len(result.Divergences),
	)
	return result, nil
}

func compareDB(want ir.Value, got any) (string, string, bool) {
	wantJSON, err := ir.MarshalCanonical(want)
	if err != nil {
		return err.Error(), "", false
	}
	v, ok := got.(ir.Value)
	if !ok {
		return string(wantJSON), fmt.Sprintf("%T", got), false
	}
	gotJSON, err := ir.MarshalCanonical(v)
	if err != nil {
		return string(wantJSON), err.Error(), false
	}
	return string(wantJSON), string(gotJSON), string(wantJSON) == string(gotJSON)
}

type discardScheduler struct{}

func (discardScheduler) Schedule(func()) {}

type discardTimer struct{}

func (discardTimer) AfterFunc(time.Duration, func()) {}
