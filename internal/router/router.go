// Package router queues events and drains them one at a time.
//
// Dispatch appends to a FIFO queue and, if the router is idle, asks the
// Scheduler to run a drain step. Each drain step processes exactly one
// event, runs the post-event callbacks, and schedules the next step if
// events remain. Events dispatched by a handler are therefore processed
// after the current event completes, never recursively.
//
// State machine:
//
//	idle --Dispatch--> scheduled --step--> running --+--> scheduled (more queued)
//	  ^                                              |
//	  +----------------------------------------------+    (queue empty)
//
// DispatchSync bypasses the queue and runs an event immediately on the
// caller's goroutine. It fails with ErrReentrantDispatch while any event is
// executing.
package router

import (
	"fmt"
	"sync"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/rterr"
)

// State is the router's drain state.
type State int

const (
	Idle State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrReentrantDispatch is returned by DispatchSync while another event is
// executing.
var ErrReentrantDispatch = rterr.New(rterr.CodeReentrantDispatch,
	"DispatchSync called while an event is executing; use Dispatch")

// Handler processes one event.
type Handler func(ev ir.Vector) error

// PostEventFunc is called after every event with the event, a snapshot of
// the events still queued, and the event's error (nil on success).
type PostEventFunc func(ev ir.Vector, remaining []ir.Vector, err error)

// ErrorFunc receives the error of an event that failed while draining.
type ErrorFunc func(ev ir.Vector, err error)

type callback struct {
	id string
	fn PostEventFunc
}

// Router is the event queue.
type Router struct {
	handle    Handler
	scheduler Scheduler
	logs      *loggers.Loggers

	mu        sync.Mutex
	queue     *queue[ir.Vector]
	state     State
	executing bool
	deferred  bool // a drain step found a sync event running
	onError   ErrorFunc
	callbacks []callback
}

// New creates an idle router that runs events with handle and drains on
// scheduler.
func New(handle Handler, scheduler Scheduler, logs *loggers.Loggers) *Router {
	r := &Router{
		handle:    handle,
		scheduler: scheduler,
		logs:      logs,
		queue:     newQueue[ir.Vector](),
	}
	r.onError = r.logError
	return r
}

// SetErrorHandler replaces the handler for events that fail while
// draining. nil restores the default, which logs on the error channel.
func (r *Router) SetErrorHandler(fn ErrorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		fn = r.logError
	}
	r.onError = fn
}

// Dispatch enqueues ev for asynchronous processing. It never blocks on
// event processing. Safe from any goroutine, including from handlers.
func (r *Router) Dispatch(ev ir.Vector) error {
	if len(ev) == 0 {
		return ir.ErrEmptyEvent
	}

	r.mu.Lock()
	r.queue.Enqueue(ev)
	schedule := r.state == Idle
	if schedule {
		r.state = Scheduled
	}
	r.mu.Unlock()

	if schedule {
		r.scheduler.Schedule(r.step)
	}
	return nil
}

// DispatchSync processes ev immediately and returns its error. Post-event
// callbacks run as for queued events. Queued events are not touched, and a
// drain step that comes due meanwhile waits until ev has finished.
func (r *Router) DispatchSync(ev ir.Vector) error {
	if len(ev) == 0 {
		return ir.ErrEmptyEvent
	}

	r.mu.Lock()
	if r.executing {
		r.mu.Unlock()
		return ErrReentrantDispatch
	}
	r.executing = true
	r.mu.Unlock()

	err := r.run(ev)

	r.mu.Lock()
	r.executing = false
	resume := r.deferred
	r.deferred = false
	r.mu.Unlock()

	r.postEvent(ev, err)
	if resume {
		r.scheduler.Schedule(r.step)
	}
	return err
}

// Purge drops every queued event without running it and returns how many
// were dropped.
func (r *Router) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Clear()
}

// State returns the current drain state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Len returns the number of queued events.
func (r *Router) Len() int {
	return r.queue.Len()
}

// Queued returns a snapshot of the queued events, front first.
func (r *Router) Queued() []ir.Vector {
	return r.queue.Snapshot()
}

// AddPostEventCallback registers fn under id. Re-adding an id replaces the
// callback but keeps its position.
func (r *Router) AddPostEventCallback(id string, fn PostEventFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.callbacks {
		if r.callbacks[i].id == id {
			r.callbacks[i].fn = fn
			return
		}
	}
	r.callbacks = append(r.callbacks, callback{id: id, fn: fn})
}

// RemovePostEventCallback removes the callback registered under id.
func (r *Router) RemovePostEventCallback(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.callbacks {
		if r.callbacks[i].id == id {
			r.callbacks = append(r.callbacks[:i:i], r.callbacks[i+1:]...)
			return
		}
	}
	r.logs.Warn("no post-event callback to remove", "id", id)
}

// step processes the event at the head of the queue. It runs on the
// scheduler.
func (r *Router) step() {
	r.mu.Lock()
	if r.executing {
		// DispatchSync is running on another goroutine and reschedules
		// the drain when it returns.
		r.deferred = true
		r.mu.Unlock()
		return
	}
	ev, ok := r.queue.TryDequeue()
	if !ok {
		// Purged since scheduling.
		r.state = Idle
		r.mu.Unlock()
		return
	}
	r.state = Running
	r.executing = true
	r.mu.Unlock()

	err := r.run(ev)

	r.mu.Lock()
	r.executing = false
	onError := r.onError
	r.mu.Unlock()

	if err != nil {
		onError(ev, err)
	}
	r.postEvent(ev, err)

	r.mu.Lock()
	more := r.queue.Len() > 0
	if more {
		r.state = Scheduled
	} else {
		r.state = Idle
	}
	r.mu.Unlock()

	if more {
		r.scheduler.Schedule(r.step)
	}
}

func (r *Router) run(ev ir.Vector) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = rterr.Recovered("event handler", p)
		}
	}()
	return r.handle(ev)
}

func (r *Router) postEvent(ev ir.Vector, err error) {
	r.mu.Lock()
	cbs := make([]callback, len(r.callbacks))
	copy(cbs, r.callbacks)
	r.mu.Unlock()

	remaining := r.queue.Snapshot()
	for _, cb := range cbs {
		r.callOne(cb, ev, remaining, err)
	}
}

func (r *Router) callOne(cb callback, ev ir.Vector, remaining []ir.Vector, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logs.Error("post-event callback panicked", "id", cb.id, "panic", p)
		}
	}()
	cb.fn(ev, remaining, err)
}

func (r *Router) logError(ev ir.Vector, err error) {
	r.logs.Error("event failed", "event", ir.Format(ev), "error", err)
}
