package demo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/runtime"
	"github.com/roach88/signalbox/internal/testutil"
)

type app struct {
	rt    *runtime.Runtime
	sched *testutil.ManualScheduler
	timer *testutil.FakeTimer
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{
		sched: &testutil.ManualScheduler{},
		timer: testutil.NewFakeTimer(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	logs := loggers.New(nil)
	logs.Set(map[loggers.Channel]loggers.Func{loggers.Debug: nil})
	a.rt = runtime.New(
		runtime.WithLoggers(logs),
		runtime.WithScheduler(a.sched),
		runtime.WithTimer(a.timer),
		runtime.WithDB(InitialDB()),
	)
	t.Cleanup(a.rt.Close)
	Setup(a.rt)
	return a
}

func (a *app) dispatch(t *testing.T, evs ...ir.Vector) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, a.rt.Dispatch(ev))
	}
	a.sched.RunAll()
}

func (a *app) sub(t *testing.T, q ir.Vector) any {
	t.Helper()
	h, err := a.rt.Subscribe(q)
	require.NoError(t, err)
	t.Cleanup(h.Dispose)
	v, err := h.Deref()
	require.NoError(t, err)
	return v
}

func titles(v any) []string {
	var out []string
	for _, t := range v.(ir.Vector) {
		out = append(out, string(t.(ir.Map)["title"].(ir.String)))
	}
	return out
}

func TestAddTodo(t *testing.T) {
	a := newApp(t)
	a.dispatch(t, ir.Ev("add-todo", ir.String("milk")), ir.Ev("add-todo", ir.String("  eggs ")))

	assert.Equal(t, []string{"milk", "eggs"}, titles(a.sub(t, ir.Ev("visible-todos"))))
	assert.Equal(t, ir.Map{"id": ir.Int(2), "title": ir.String("eggs"), "done": ir.Bool(false)},
		a.sub(t, ir.Ev("todo", ir.Int(2))))
	assert.Equal(t, ir.String("added eggs"), a.sub(t, ir.Ev("notice")))
	assert.Equal(t, ir.Int(3), a.rt.DB().(ir.Map)["next-id"])
}

func TestAddTodo_EmptyTitleFails(t *testing.T) {
	a := newApp(t)
	err := a.rt.DispatchSync(ir.Ev("add-todo", ir.String("   ")))
	assert.True(t, runtime.IsHandlerFailed(err))
	assert.Equal(t, InitialDB(), a.rt.DB())
}

func TestNoticeClearsAfterDelay(t *testing.T) {
	a := newApp(t)
	a.dispatch(t, ir.Ev("add-todo", ir.String("milk")))
	a.timer.Advance(time.Second)
	a.dispatch(t, ir.Ev("add-todo", ir.String("eggs")))

	a.timer.Advance(2 * time.Second)
	a.sched.RunAll()
	assert.Equal(t, ir.String("added eggs"), a.sub(t, ir.Ev("notice")), "stale timer leaves the newer notice")

	a.timer.Advance(time.Second)
	a.sched.RunAll()
	assert.Equal(t, ir.Null{}, a.sub(t, ir.Ev("notice")))
}

func TestToggleAndFilter(t *testing.T) {
	a := newApp(t)
	a.dispatch(t,
		ir.Ev("add-todo", ir.String("milk")),
		ir.Ev("add-todo", ir.String("eggs")),
		ir.Ev("toggle-done", ir.Int(1)),
	)

	visible, err := a.rt.Subscribe(ir.Ev("visible-todos"))
	require.NoError(t, err)
	defer visible.Dispose()

	a.dispatch(t, ir.Ev("set-filter", ir.K("active")))
	v, err := visible.Deref()
	require.NoError(t, err)
	assert.Equal(t, []string{"eggs"}, titles(v))

	a.dispatch(t, ir.Ev("set-filter", ir.K("done")))
	v, err = visible.Deref()
	require.NoError(t, err)
	assert.Equal(t, []string{"milk"}, titles(v))

	assert.Equal(t, ir.Map{"total": ir.Int(2), "done": ir.Int(1), "active": ir.Int(1)}, a.sub(t, ir.Ev("counts")))
}

func TestSetFilter_Unknown(t *testing.T) {
	a := newApp(t)
	err := a.rt.DispatchSync(ir.Ev("set-filter", ir.K("someday")))
	assert.True(t, runtime.IsHandlerFailed(err))
}

func TestToggle_MissingTodo(t *testing.T) {
	a := newApp(t)
	err := a.rt.DispatchSync(ir.Ev("toggle-done", ir.Int(9)))
	assert.True(t, runtime.IsHandlerFailed(err))
	assert.Contains(t, err.Error(), "no todo 9")
}

func TestAllDoneTracksTodos(t *testing.T) {
	a := newApp(t)
	a.dispatch(t, ir.Ev("add-todo", ir.String("milk")), ir.Ev("complete-all"))
	assert.Equal(t, ir.Bool(true), a.rt.DB().(ir.Map)["all-done"])

	a.dispatch(t, ir.Ev("add-todo", ir.String("eggs")))
	assert.Equal(t, ir.Bool(false), a.rt.DB().(ir.Map)["all-done"])
}

func TestClearCompleted_DispatchesRemovals(t *testing.T) {
	a := newApp(t)
	var seen []ir.Vector
	a.rt.AddPostEventCallback("test", func(ev ir.Vector, _ []ir.Vector, _ error) {
		seen = append(seen, ev)
	})

	a.dispatch(t,
		ir.Ev("add-todo", ir.String("a")),
		ir.Ev("add-todo", ir.String("b")),
		ir.Ev("add-todo", ir.String("c")),
		ir.Ev("toggle-done", ir.Int(1)),
		ir.Ev("toggle-done", ir.Int(3)),
		ir.Ev("clear-completed"),
	)

	assert.Equal(t, []string{"b"}, titles(a.sub(t, ir.Ev("sorted-todos"))))
	assert.Equal(t, ir.Ev("remove-todo", ir.Int(1)), seen[len(seen)-2])
	assert.Equal(t, ir.Ev("remove-todo", ir.Int(3)), seen[len(seen)-1])
}

func TestInitialiseDB(t *testing.T) {
	a := newApp(t)
	a.dispatch(t, ir.Ev("add-todo", ir.String("milk")), ir.Ev("initialise-db"))
	assert.Equal(t, InitialDB(), a.rt.DB())
}
