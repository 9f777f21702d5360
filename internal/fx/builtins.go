package fx

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roach88/signalbox/internal/appdb"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

// Dispatcher enqueues events. Implemented by the router.
type Dispatcher interface {
	Dispatch(ev ir.Vector) error
}

// Timer schedules f to run once after d. Implementations may run f on any
// goroutine. There is no cancellation.
type Timer interface {
	AfterFunc(d time.Duration, f func())
}

// RealTimer schedules with time.AfterFunc.
type RealTimer struct{}

// AfterFunc calls time.AfterFunc.
func (RealTimer) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Later is one dispatch-later record: Event is dispatched after Delay time
// units.
type Later struct {
	Delay int64
	Event ir.Vector
}

// Entry is one element of the fx effect.
type Entry struct {
	Kind  ir.Keyword
	Value any
}

// Builtins holds what the built-in effect handlers act on.
type Builtins struct {
	Store      *appdb.Store
	Dispatcher Dispatcher
	Timer      Timer

	// Unit is the length of one dispatch-later delay unit. Zero means
	// milliseconds.
	Unit time.Duration
}

// RegisterBuiltins registers db, dispatch, dispatch-n, dispatch-later, fx
// and deregister-event-handler.
func (e *Executor) RegisterBuiltins(b Builtins) {
	unit := b.Unit
	if unit == 0 {
		unit = time.Millisecond
	}

	Register(e.reg, "db", func(v any) error {
		b.Store.Reset(v)
		return nil
	})
	Register(e.reg, "dispatch", func(v any) error {
		ev, err := asEvent(v)
		if err != nil {
			return malformed("dispatch", err)
		}
		return b.Dispatcher.Dispatch(ev)
	})
	Register(e.reg, "dispatch-n", func(v any) error {
		evs, err := asEvents(v)
		if err != nil {
			return malformed("dispatch-n", err)
		}
		var errs []error
		for i, ev := range evs {
			if ev == nil {
				continue
			}
			if len(ev) == 0 {
				errs = append(errs, malformed("dispatch-n", fmt.Errorf("[%d]: %w", i, ir.ErrEmptyEvent)))
				continue
			}
			if err := b.Dispatcher.Dispatch(ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	Register(e.reg, "dispatch-later", func(v any) error {
		records, err := asLaters(v)
		var errs []error
		if err != nil {
			errs = append(errs, err)
		}
		for _, l := range records {
			if l.Delay > math.MaxInt64/int64(unit) {
				errs = append(errs, malformed("dispatch-later", fmt.Errorf("delay %d is out of range", l.Delay)))
				continue
			}
			ev := l.Event
			b.Timer.AfterFunc(time.Duration(l.Delay)*unit, func() {
				_ = b.Dispatcher.Dispatch(ev)
			})
		}
		return errors.Join(errs...)
	})
	Register(e.reg, "fx", func(v any) error {
		entries, err := asEntries(v)
		if err != nil {
			return malformed("fx", err)
		}
		var errs []error
		for _, en := range entries {
			if en.Kind == "db" {
				errs = append(errs, malformed("fx", errors.New("the db effect is not allowed inside fx")))
				continue
			}
			if err := e.apply(en.Kind, en.Value); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	Register(e.reg, "deregister-event-handler", func(v any) error {
		ids, err := asKeywords(v)
		if err != nil {
			return malformed("deregister-event-handler", err)
		}
		for _, id := range ids {
			e.reg.Clear(registrar.KindEvent, id)
		}
		return nil
	})
}

func malformed(kind string, err error) error {
	return rterr.New(rterr.CodeMalformedEffect, "invalid value").WithKind(":" + kind).Wrap(err)
}

func asEvent(v any) (ir.Vector, error) {
	ev, ok := v.(ir.Vector)
	if !ok {
		return nil, fmt.Errorf("expected an event vector, got %T", v)
	}
	if len(ev) == 0 {
		return nil, ir.ErrEmptyEvent
	}
	return ev, nil
}

// asEvents accepts []ir.Vector or an ir.Vector of vectors. Nil entries are
// returned as nil and skipped by the caller.
func asEvents(v any) ([]ir.Vector, error) {
	switch val := v.(type) {
	case []ir.Vector:
		return val, nil
	case []any:
		vec := make(ir.Vector, len(val))
		for i, elem := range val {
			if elem == nil {
				continue
			}
			ev, ok := elem.(ir.Value)
			if !ok {
				return nil, fmt.Errorf("[%d]: expected an event vector, got %T", i, elem)
			}
			vec[i] = ev
		}
		return asEvents(vec)
	case ir.Vector:
		out := make([]ir.Vector, len(val))
		for i, elem := range val {
			switch ev := elem.(type) {
			case nil, ir.Null:
			case ir.Vector:
				out[i] = ev
			default:
				return nil, fmt.Errorf("[%d]: expected an event vector, got %T", i, elem)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a sequence of events, got %T", v)
	}
}

// asLaters validates dispatch-later records. Valid records are returned even
// when others fail; the error describes every rejected record.
func asLaters(v any) ([]Later, error) {
	switch val := v.(type) {
	case Later:
		return asLaters([]Later{val})
	case []Later:
		var out []Later
		var errs []error
		for i, l := range val {
			if err := checkLater(l); err != nil {
				errs = append(errs, malformed("dispatch-later", fmt.Errorf("[%d]: %w", i, err)))
				continue
			}
			out = append(out, l)
		}
		return out, errors.Join(errs...)
	case ir.Map:
		return asLaters(ir.V(val))
	case ir.Vector:
		var out []Later
		var errs []error
		for i, elem := range val {
			if elem == nil {
				continue
			}
			if _, ok := elem.(ir.Null); ok {
				continue
			}
			l, err := laterFromMap(elem)
			if err == nil {
				err = checkLater(l)
			}
			if err != nil {
				errs = append(errs, malformed("dispatch-later", fmt.Errorf("[%d]: %w", i, err)))
				continue
			}
			out = append(out, l)
		}
		return out, errors.Join(errs...)
	default:
		return nil, malformed("dispatch-later", fmt.Errorf("expected a sequence of records, got %T", v))
	}
}

func laterFromMap(v ir.Value) (Later, error) {
	m, ok := v.(ir.Map)
	if !ok {
		return Later{}, fmt.Errorf("expected a record, got %T", v)
	}
	delay := first(m, "ms", "delay")
	d, ok := delay.(ir.Int)
	if !ok {
		return Later{}, fmt.Errorf("delay must be an integer, got %s", ir.Format(delay))
	}
	ev, ok := first(m, "dispatch", "event").(ir.Vector)
	if !ok {
		return Later{}, ir.ErrEmptyEvent
	}
	return Later{Delay: int64(d), Event: ev}, nil
}

func checkLater(l Later) error {
	if l.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %d", l.Delay)
	}
	if len(l.Event) == 0 {
		return ir.ErrEmptyEvent
	}
	return nil
}

func first(m ir.Map, keys ...string) ir.Value {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// asEntries accepts []Entry or an ir.Vector of [kind value] pairs.
func asEntries(v any) ([]Entry, error) {
	switch val := v.(type) {
	case []Entry:
		out := make([]Entry, 0, len(val))
		for _, en := range val {
			if en.Kind != "" {
				out = append(out, en)
			}
		}
		return out, nil
	case ir.Vector:
		out := make([]Entry, 0, len(val))
		for i, elem := range val {
			switch pair := elem.(type) {
			case nil, ir.Null:
			case ir.Vector:
				if len(pair) != 2 {
					return nil, fmt.Errorf("[%d]: expected [kind value], got %s", i, ir.Format(pair))
				}
				kind, ok := pair[0].(ir.Keyword)
				if !ok {
					return nil, fmt.Errorf("[%d]: effect kind must be a keyword", i)
				}
				out = append(out, Entry{Kind: kind, Value: pair[1]})
			default:
				return nil, fmt.Errorf("[%d]: expected [kind value], got %T", i, elem)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a sequence of [kind value] pairs, got %T", v)
	}
}

func asKeywords(v any) ([]ir.Keyword, error) {
	switch val := v.(type) {
	case ir.Keyword:
		return []ir.Keyword{val}, nil
	case []ir.Keyword:
		return val, nil
	case ir.Vector:
		out := make([]ir.Keyword, len(val))
		for i, elem := range val {
			k, ok := elem.(ir.Keyword)
			if !ok {
				return nil, fmt.Errorf("[%d]: expected an event id, got %s", i, ir.Format(elem))
			}
			out[i] = k
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an event id or ids, got %T", v)
	}
}
