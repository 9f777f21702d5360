package harness

import (
	"github.com/roach88/signalbox/internal/ir"
)

// Outcomes recorded in the trace.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// TraceEvent is one processed event.
type TraceEvent struct {
	Seq     int64     `json:"seq"`
	Event   ir.Vector `json:"event"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	Queued  int       `json:"queued"` // events still queued afterwards
}

// ID returns the event id, or "" for a malformed event.
func (e TraceEvent) ID() ir.Keyword {
	id, _ := ir.EventID(e.Event)
	return id
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every event processed after setup, in processing order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// DB is the final app-db.
	DB ir.Value `json:"db"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a processed event.
func (r *Result) AddTrace(seq int64, ev ir.Vector, queued int, err error) {
	te := TraceEvent{Seq: seq, Event: ev, Outcome: OutcomeOK, Queued: queued}
	if err != nil {
		te.Outcome = OutcomeFailed
		te.Error = err.Error()
	}
	r.Trace = append(r.Trace, te)
}

// Failures returns the failed trace events.
func (r *Result) Failures() []TraceEvent {
	var out []TraceEvent
	for _, te := range r.Trace {
		if te.Outcome == OutcomeFailed {
			out = append(out, te)
		}
	}
	return out
}
