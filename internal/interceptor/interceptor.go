// Package interceptor implements the two-phase hook chain every event runs
// through.
//
// An event is processed by an ordered chain of interceptors. Execute runs all
// Before hooks front to back, pushing each interceptor onto the context's
// Stack, then runs the After hooks while popping the Stack, so the first
// interceptor in the chain wraps everything after it.
//
//	[inject-db  do-fx  path  handler]
//	 before ->  before -> before -> before
//	 after  <-  after  <-  after  <-  after
//
// A hook that returns an error or panics aborts the chain: no further hook
// runs and Execute returns a HANDLER_FAILED error.
package interceptor

import (
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/rterr"
)

// Well known coeffect and effect keys.
const (
	KeyDB            = "db"
	KeyEvent         = "event"
	KeyOriginalEvent = "original-event"
)

// Coeffects are the inputs injected into an event's context.
type Coeffects map[string]any

// Effects are the outputs collected from an event's handler.
type Effects map[string]any

// Hook transforms a context in place.
type Hook func(ctx *Context) error

// Interceptor is a named pair of optional hooks. Interceptors are shared
// between chains and must not be mutated after construction.
type Interceptor struct {
	ID     string
	Before Hook
	After  Hook
}

// Context is the state threaded through one chain execution. It is built
// once per event and discarded afterwards.
type Context struct {
	Coeffects Coeffects
	Effects   Effects

	// Queue holds interceptors whose Before hook has not yet run. Before
	// hooks may rewrite it.
	Queue []*Interceptor

	// Stack holds interceptors whose Before hook has run, innermost last.
	Stack []*Interceptor

	stash map[string][]any
}

// NewContext creates the context for ev with the given chain queued.
func NewContext(ev ir.Vector, chain []*Interceptor) *Context {
	queue := make([]*Interceptor, len(chain))
	copy(queue, chain)
	return &Context{
		Coeffects: Coeffects{KeyEvent: ev, KeyOriginalEvent: ev},
		Effects:   Effects{},
		Queue:     queue,
		Stack:     make([]*Interceptor, 0, len(chain)),
	}
}

// Execute runs chain for ev and returns the final context.
// On failure the partially processed context is returned with the error.
func Execute(ev ir.Vector, chain []*Interceptor) (*Context, error) {
	ctx := NewContext(ev, chain)
	return ctx, ctx.Run()
}

// Run executes the queued interceptors.
func (c *Context) Run() error {
	for len(c.Queue) > 0 {
		next := c.Queue[0]
		c.Queue[0] = nil
		c.Queue = c.Queue[1:]
		c.Stack = append(c.Stack, next)
		if err := invoke(next, "before", next.Before, c); err != nil {
			return err
		}
	}
	for len(c.Stack) > 0 {
		top := c.Stack[len(c.Stack)-1]
		c.Stack[len(c.Stack)-1] = nil
		c.Stack = c.Stack[:len(c.Stack)-1]
		if err := invoke(top, "after", top.After, c); err != nil {
			return err
		}
	}
	return nil
}

func invoke(i *Interceptor, phase string, hook Hook, ctx *Context) (err error) {
	if hook == nil {
		return nil
	}
	where := i.ID + " " + phase
	defer func() {
		if r := recover(); r != nil {
			err = rterr.Recovered(where, r).WithEvent(ctx.eventID())
		}
	}()
	if hookErr := hook(ctx); hookErr != nil {
		return rterr.New(rterr.CodeHandlerFailed, "%s failed", where).
			WithEvent(ctx.eventID()).
			Wrap(hookErr)
	}
	return nil
}

// Event returns the event coeffect.
func (c *Context) Event() ir.Vector {
	ev, _ := c.Coeffects[KeyEvent].(ir.Vector)
	return ev
}

// OriginalEvent returns the event as it was dispatched, before any
// interceptor rewrote it.
func (c *Context) OriginalEvent() ir.Vector {
	ev, _ := c.Coeffects[KeyOriginalEvent].(ir.Vector)
	return ev
}

// DB returns the db coeffect.
func (c *Context) DB() any {
	return c.Coeffects[KeyDB]
}

// EffectDB returns the db effect and whether one was set.
func (c *Context) EffectDB() (any, bool) {
	db, ok := c.Effects[KeyDB]
	return db, ok
}

// CurrentDB returns the db effect if set, else the db coeffect.
func (c *Context) CurrentDB() any {
	if db, ok := c.EffectDB(); ok {
		return db
	}
	return c.DB()
}

// Enqueue appends interceptors to the end of the queue.
func (c *Context) Enqueue(is ...*Interceptor) {
	c.Queue = append(c.Queue, is...)
}

// push saves a value for the matching After hook of a stateful interceptor.
func (c *Context) push(key string, v any) {
	if c.stash == nil {
		c.stash = make(map[string][]any)
	}
	c.stash[key] = append(c.stash[key], v)
}

func (c *Context) pop(key string) (any, bool) {
	vals := c.stash[key]
	if len(vals) == 0 {
		return nil, false
	}
	v := vals[len(vals)-1]
	c.stash[key] = vals[:len(vals)-1]
	return v, true
}

func (c *Context) eventID() string {
	if id, err := ir.EventID(c.OriginalEvent()); err == nil {
		return id.String()
	}
	return ""
}
