package journal

import (
	"context"
	"fmt"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/runtime"
)

// CallbackID is the post-event callback id the Recorder registers under.
const CallbackID = "journal"

// Recorder appends every event a runtime processes to a journal.
//
// Writes happen inside the post-event callback, on the draining goroutine,
// so entries are written in processing order. A failed write is logged on
// the error channel and does not affect the runtime.
type Recorder struct {
	j       *Journal
	session string
	clock   *Clock
	logs    *loggers.Loggers
	rt      *runtime.Runtime
}

// Record starts a session for rt and attaches a Recorder to it. The
// current store value is saved as the session's initial db.
func Record(ctx context.Context, j *Journal, rt *runtime.Runtime, session string) (*Recorder, error) {
	s := Session{ID: session, IRVersion: IRVersion}
	if v, ok := rt.DB().(ir.Value); ok {
		s.InitialDB = v
	}
	if err := j.WriteSession(ctx, s); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	last, err := j.LastSeq(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	r := &Recorder{
		j:       j,
		session: session,
		clock:   NewClockAt(last),
		logs:    rt.Loggers(),
		rt:      rt,
	}
	rt.AddPostEventCallback(CallbackID, r.record)
	return r, nil
}

// Session returns the session id.
func (r *Recorder) Session() string {
	return r.session
}

// Seq returns the seq of the last recorded event.
func (r *Recorder) Seq() int64 {
	return r.clock.Current()
}

// Stop detaches the recorder.
func (r *Recorder) Stop() {
	r.rt.RemovePostEventCallback(CallbackID)
}

func (r *Recorder) record(ev ir.Vector, remaining []ir.Vector, evErr error) {
	seq := r.clock.Next()
	e, err := NewEntry(r.session, seq, ev, evErr, r.rt.DB(), len(remaining))
	if err == nil {
		err = r.j.WriteEntry(context.Background(), e)
	}
	if err != nil {
		r.logs.Error("journal write failed",
			"session", r.session,
			"seq", seq,
			"event", ir.Format(ev),
			"error", err,
		)
	}
}
