// Package demo is a small todo application built on the runtime. The CLI
// and the scenario harness run it.
//
// db shape:
//
//	{
//	  "todos":    {"1": {"id": 1, "title": "milk", "done": false}, ...},
//	  "next-id":  2,
//	  "filter":   :all | :active | :done,
//	  "all-done": false,
//	  "notice":   "added milk"
//	}
package demo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/signalbox/internal/interceptor"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/runtime"
)

// NoticeDelay is how long a notice stays up, in delay units.
const NoticeDelay = 3000

// Filters accepted by :set-filter.
var Filters = []ir.Keyword{"all", "active", "done"}

// InitialDB returns an empty todo list.
func InitialDB() ir.Map {
	return ir.Map{
		"todos":    ir.Map{},
		"next-id":  ir.Int(1),
		"filter":   ir.K("all"),
		"all-done": ir.Bool(false),
		"notice":   ir.Null{},
	}
}

// Setup registers the application's events and subscriptions.
func Setup(rt *runtime.Runtime) {
	registerEvents(rt)
	registerSubs(rt)
}

func registerEvents(rt *runtime.Runtime) {
	allDone := interceptor.OnChanges(computeAllDone, []string{"all-done"}, []string{"todos"})
	todos := interceptor.Path("todos")
	debug := interceptor.Debug(rt.Loggers())

	rt.RegEventDB("initialise-db", func(any, ir.Vector) (any, error) {
		return InitialDB(), nil
	}, debug)

	rt.RegEventFx("add-todo", addTodo, debug, interceptor.TrimV, allDone)

	rt.RegEventDB("toggle-done", func(db any, ev ir.Vector) (any, error) {
		m, key, todo, err := lookupTodo(db, ev)
		if err != nil {
			return nil, err
		}
		done, _ := todo["done"].(ir.Bool)
		return m.Assoc(key, todo.Assoc("done", !done)), nil
	}, debug, allDone, todos)

	rt.RegEventDB("remove-todo", func(db any, ev ir.Vector) (any, error) {
		m, key, _, err := lookupTodo(db, ev)
		if err != nil {
			return nil, err
		}
		return m.Dissoc(key), nil
	}, debug, allDone, todos)

	rt.RegEventDB("set-filter", func(db any, ev ir.Vector) (any, error) {
		f, ok := argAt(ev, 1).(ir.Keyword)
		if !ok || !validFilter(f) {
			return nil, fmt.Errorf("unknown filter %s", ir.Format(argAt(ev, 1)))
		}
		return db.(ir.Map).Assoc("filter", f), nil
	}, debug)

	rt.RegEventFx("clear-completed", func(c interceptor.Coeffects, _ ir.Vector) (interceptor.Effects, error) {
		var removals ir.Vector
		for _, todo := range sortedTodos(c[interceptor.KeyDB].(ir.Map)) {
			if todo["done"] == ir.Bool(true) {
				removals = append(removals, ir.Ev("remove-todo", todo["id"]))
			}
		}
		if len(removals) == 0 {
			return nil, nil
		}
		return interceptor.Effects{"dispatch-n": removals}, nil
	}, debug)

	rt.RegEventFx("complete-all", func(c interceptor.Coeffects, _ ir.Vector) (interceptor.Effects, error) {
		var toggles ir.Vector
		for _, todo := range sortedTodos(c[interceptor.KeyDB].(ir.Map)) {
			if todo["done"] != ir.Bool(true) {
				toggles = append(toggles, ir.V(ir.K("dispatch"), ir.Ev("toggle-done", todo["id"])))
			}
		}
		return interceptor.Effects{"fx": toggles}, nil
	}, debug)

	rt.RegEventDB("clear-notice", func(db any, ev ir.Vector) (any, error) {
		m := db.(ir.Map)
		// A newer notice replaced the one this timer was for.
		if want := argAt(ev, 1); want != nil && !ir.Equal(m["notice"], want) {
			return m, nil
		}
		return m.Assoc("notice", ir.Null{}), nil
	}, debug)
}

// addTodo runs with TrimV, so the title is ev[0].
func addTodo(c interceptor.Coeffects, ev ir.Vector) (interceptor.Effects, error) {
	title, _ := argAt(ev, 0).(ir.String)
	text := strings.TrimSpace(string(title))
	if text == "" {
		return nil, fmt.Errorf("add-todo: title must be a non-empty string")
	}

	db := c[interceptor.KeyDB].(ir.Map)
	id, _ := db["next-id"].(ir.Int)
	todo := ir.Map{"id": id, "title": ir.String(text), "done": ir.Bool(false)}
	todos, _ := db["todos"].(ir.Map)
	notice := ir.String("added " + text)

	return interceptor.Effects{
		"db": db.
			Assoc("todos", todos.Assoc(todoKey(id), todo)).
			Assoc("next-id", id+1).
			Assoc("notice", notice),
		"dispatch-later": ir.V(ir.Map{
			"ms":       ir.Int(NoticeDelay),
			"dispatch": ir.Ev("clear-notice", notice),
		}),
	}, nil
}

func computeAllDone(inputs ...ir.Value) ir.Value {
	todos, _ := inputs[0].(ir.Map)
	if len(todos) == 0 {
		return ir.Bool(false)
	}
	for _, v := range todos {
		if t, ok := v.(ir.Map); ok && t["done"] != ir.Bool(true) {
			return ir.Bool(false)
		}
	}
	return ir.Bool(true)
}

// lookupTodo expects db focused on "todos" and an id argument.
func lookupTodo(db any, ev ir.Vector) (ir.Map, string, ir.Map, error) {
	m, _ := db.(ir.Map)
	id, ok := argAt(ev, 1).(ir.Int)
	if !ok {
		return nil, "", nil, fmt.Errorf("expected a todo id, got %s", ir.Format(argAt(ev, 1)))
	}
	key := todoKey(id)
	todo, ok := m[key].(ir.Map)
	if !ok {
		return nil, "", nil, fmt.Errorf("no todo %d", int64(id))
	}
	return m, key, todo, nil
}

func todoKey(id ir.Int) string {
	return strconv.FormatInt(int64(id), 10)
}

func argAt(ev ir.Vector, i int) ir.Value {
	if i < len(ev) {
		return ev[i]
	}
	return nil
}

func validFilter(f ir.Keyword) bool {
	for _, v := range Filters {
		if v == f {
			return true
		}
	}
	return false
}
