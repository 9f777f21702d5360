package interceptor

import (
	"fmt"
	"strings"

	"github.com/roach88/signalbox/internal/appdb"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
)

// Path focuses the handler on a sub-tree of an ir.Map db. The handler sees
// the value at keys as its db; its db effect is grafted back into the full
// db afterwards. A missing path reads as nil.
func Path(keys ...string) *Interceptor {
	id := "path " + strings.Join(keys, "/")
	return &Interceptor{
		ID: id,
		Before: func(ctx *Context) error {
			root, err := asMap(ctx.DB())
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			ctx.push("path", root)
			var focused any
			if v, ok := root.GetIn(keys...); ok {
				focused = v
			}
			ctx.Coeffects[KeyDB] = focused
			return nil
		},
		After: func(ctx *Context) error {
			saved, ok := ctx.pop("path")
			if !ok {
				return fmt.Errorf("%s: no saved db", id)
			}
			root := saved.(ir.Map)
			ctx.Coeffects[KeyDB] = root
			db, ok := ctx.EffectDB()
			if !ok {
				return nil
			}
			v, err := toValue(db)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			ctx.Effects[KeyDB] = root.AssocIn(keys, v)
			return nil
		},
	}
}

// Enrich post-processes the db after the handler. fn receives the db effect
// (or the unchanged db coeffect) and the event.
func Enrich(fn func(db any, ev ir.Vector) any) *Interceptor {
	return &Interceptor{
		ID: "enrich",
		After: func(ctx *Context) error {
			_, had := ctx.EffectDB()
			db := ctx.CurrentDB()
			out := fn(db, ctx.Event())
			if !had && sameValue(db, out) {
				return nil
			}
			ctx.Effects[KeyDB] = out
			return nil
		},
	}
}

// After runs fn for its side effects once the handler has finished.
func After(fn func(db any, ev ir.Vector)) *Interceptor {
	return &Interceptor{
		ID: "after",
		After: func(ctx *Context) error {
			fn(ctx.CurrentDB(), ctx.Event())
			return nil
		},
	}
}

// OnChanges recomputes the value at out whenever any of the input paths
// changed between the db coeffect and the db effect. fn receives the new
// values at the input paths.
func OnChanges(fn func(inputs ...ir.Value) ir.Value, out []string, inputs ...[]string) *Interceptor {
	return &Interceptor{
		ID: "on-changes",
		After: func(ctx *Context) error {
			newDB, ok := ctx.EffectDB()
			if !ok {
				return nil
			}
			oldMap, err := asMap(ctx.DB())
			if err != nil {
				return fmt.Errorf("on-changes: %w", err)
			}
			newMap, err := asMap(newDB)
			if err != nil {
				return fmt.Errorf("on-changes: %w", err)
			}

			changed := false
			args := make([]ir.Value, len(inputs))
			for i, path := range inputs {
				before, _ := oldMap.GetIn(path...)
				after, _ := newMap.GetIn(path...)
				if !ir.Equal(before, after) {
					changed = true
				}
				args[i] = after
			}
			if !changed {
				return nil
			}
			ctx.Effects[KeyDB] = newMap.AssocIn(out, fn(args...))
			return nil
		},
	}
}

// TrimV removes the event id so the handler sees only the arguments. The
// full event is restored on the way out.
var TrimV = &Interceptor{
	ID: "trim-v",
	Before: func(ctx *Context) error {
		ev := ctx.Event()
		ctx.push("trim-v", ev)
		ctx.Coeffects[KeyEvent] = ir.Args(ev)
		return nil
	},
	After: func(ctx *Context) error {
		if ev, ok := ctx.pop("trim-v"); ok {
			ctx.Coeffects[KeyEvent] = ev
		}
		return nil
	},
}

// Debug logs each event on the way in and whether it changed the db on the
// way out.
func Debug(logs *loggers.Loggers) *Interceptor {
	return &Interceptor{
		ID: "debug",
		Before: func(ctx *Context) error {
			logs.Debug("handling event", "event", ir.Format(ctx.Event()))
			return nil
		},
		After: func(ctx *Context) error {
			db, ok := ctx.EffectDB()
			switch {
			case !ok:
				logs.Debug("no db effect", "event", ir.Format(ctx.Event()))
			case sameValue(db, ctx.DB()):
				logs.Debug("db unchanged", "event", ir.Format(ctx.Event()))
			default:
				logs.Debug("db changed", "event", ir.Format(ctx.Event()))
			}
			return nil
		},
	}
}

func asMap(db any) (ir.Map, error) {
	switch v := db.(type) {
	case nil:
		return ir.Map{}, nil
	case ir.Map:
		return v, nil
	default:
		return nil, fmt.Errorf("db must be an ir.Map, got %T", db)
	}
}

func toValue(v any) (ir.Value, error) {
	if v == nil {
		return ir.Null{}, nil
	}
	if iv, ok := v.(ir.Value); ok {
		return iv, nil
	}
	return nil, fmt.Errorf("db effect must be an ir.Value, got %T", v)
}

// sameValue compares two dbs: structurally for ir values, by identity
// otherwise.
func sameValue(a, b any) bool {
	av, aok := a.(ir.Value)
	bv, bok := b.(ir.Value)
	if aok && bok {
		return ir.Equal(av, bv)
	}
	return appdb.Identical(a, b)
}
