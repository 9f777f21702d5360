package demo

import (
	"sort"
	"strconv"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/runtime"
	"github.com/roach88/signalbox/internal/subs"
)

func registerSubs(rt *runtime.Runtime) {
	rt.RegSub("todos", []subs.Input{subs.FromDB()}, func(in []any, _ ir.Vector) (any, error) {
		todos, _ := in[0].(ir.Map)["todos"].(ir.Map)
		return todos, nil
	})

	rt.RegSub("filter", []subs.Input{subs.FromDB()}, func(in []any, _ ir.Vector) (any, error) {
		return in[0].(ir.Map)["filter"], nil
	})

	rt.RegSub("notice", []subs.Input{subs.FromDB()}, func(in []any, _ ir.Vector) (any, error) {
		return in[0].(ir.Map)["notice"], nil
	})

	rt.RegSub("sorted-todos", []subs.Input{subs.From(ir.Ev("todos"))}, func(in []any, _ ir.Vector) (any, error) {
		todos, _ := in[0].(ir.Map)
		out := ir.Vector{}
		for _, t := range sortedByID(todos) {
			out = append(out, t)
		}
		return out, nil
	})

	rt.RegSub("visible-todos", []subs.Input{
		subs.From(ir.Ev("sorted-todos")),
		subs.From(ir.Ev("filter")),
	}, func(in []any, _ ir.Vector) (any, error) {
		all := in[0].(ir.Vector)
		filter, _ := in[1].(ir.Keyword)
		out := ir.Vector{}
		for _, v := range all {
			done := v.(ir.Map)["done"] == ir.Bool(true)
			switch {
			case filter == "active" && done, filter == "done" && !done:
				continue
			}
			out = append(out, v)
		}
		return out, nil
	})

	rt.RegSub("counts", []subs.Input{subs.From(ir.Ev("sorted-todos"))}, func(in []any, _ ir.Vector) (any, error) {
		all := in[0].(ir.Vector)
		done := 0
		for _, v := range all {
			if v.(ir.Map)["done"] == ir.Bool(true) {
				done++
			}
		}
		return ir.Map{
			"total":  ir.Int(len(all)),
			"done":   ir.Int(done),
			"active": ir.Int(len(all) - done),
		}, nil
	})

	// [:todo id]
	rt.RegSub("todo", []subs.Input{subs.FromQuery(func(ir.Vector) ir.Vector {
		return ir.Ev("todos")
	})}, func(in []any, q ir.Vector) (any, error) {
		todos, _ := in[0].(ir.Map)
		id, _ := argAt(q, 1).(ir.Int)
		if t, ok := todos[todoKey(id)]; ok {
			return t, nil
		}
		return ir.Null{}, nil
	})
}

func sortedTodos(db ir.Map) []ir.Map {
	todos, _ := db["todos"].(ir.Map)
	return sortedByID(todos)
}

// sortedByID orders todos numerically by id.
func sortedByID(todos ir.Map) []ir.Map {
	keys := make([]string, 0, len(todos))
	for k := range todos {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseInt(keys[i], 10, 64)
		b, _ := strconv.ParseInt(keys[j], 10, 64)
		return a < b
	})
	out := make([]ir.Map, 0, len(keys))
	for _, k := range keys {
		if t, ok := todos[k].(ir.Map); ok {
			out = append(out, t)
		}
	}
	return out
}
