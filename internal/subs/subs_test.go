package subs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/signalbox/internal/appdb"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

type fixture struct {
	reg   *registrar.Registrar
	store *appdb.Store
	graph *Graph
	runs  map[string]int
}

func newFixture(t *testing.T, db ir.Map) *fixture {
	t.Helper()
	reg := registrar.New(nil)
	store := appdb.New(db)
	g := New(reg, store, loggers.New(nil))
	t.Cleanup(g.Close)
	return &fixture{reg: reg, store: store, graph: g, runs: make(map[string]int)}
}

// field registers a subscription reading one key of the db.
func (f *fixture) field(id, key string) {
	Register(f.reg, ir.K(id), []Input{FromDB()}, func(in []any, _ ir.Vector) (any, error) {
		f.runs[id]++
		return in[0].(ir.Map)[key], nil
	})
}

func (f *fixture) subscribe(t *testing.T, q ir.Vector) *Handle {
	t.Helper()
	h, err := f.graph.Subscribe(q)
	require.NoError(t, err)
	return h
}

func deref(t *testing.T, h *Handle) any {
	t.Helper()
	v, err := h.Deref()
	require.NoError(t, err)
	return v
}

func TestSubscribe_ComputesEagerly(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")

	h := f.subscribe(t, ir.Ev("a"))
	assert.Equal(t, 1, f.runs["a"])

	assert.Equal(t, ir.Int(1), deref(t, h))
	assert.Equal(t, 1, f.runs["a"], "reading a clean node does not recompute")
}

func TestSubscribe_SharesStructurallyEqualQueries(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	Register(f.reg, "item", []Input{FromDB()}, func(in []any, q ir.Vector) (any, error) {
		f.runs["item"]++
		return q[1], nil
	})

	h1 := f.subscribe(t, ir.Ev("item", ir.K("x"), ir.Int(3)))
	h2 := f.subscribe(t, ir.Ev("item", ir.K("x"), ir.Int(3)))

	assert.Equal(t, 1, f.runs["item"], "single computation")
	assert.Same(t, h1.n, h2.n)
	assert.Equal(t, 2, h1.n.refs)

	h1.Dispose()
	assert.Equal(t, ir.K("x"), deref(t, h2), "other handle stays live")
	assert.Equal(t, 1, f.graph.Len())

	_, err := h1.Deref()
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestSubscribe_DistinctQueries(t *testing.T) {
	f := newFixture(t, ir.Map{})
	Register(f.reg, "item", []Input{FromDB()}, func(in []any, q ir.Vector) (any, error) {
		return q[1], nil
	})

	h1 := f.subscribe(t, ir.Ev("item", ir.K("x")))
	h2 := f.subscribe(t, ir.Ev("item", ir.String("x")))

	assert.NotSame(t, h1.n, h2.n, "keyword and string arguments differ")
	assert.Equal(t, 2, f.graph.Len())
}

func TestDispose_FreshNodeAfterFullDisposal(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")

	h := f.subscribe(t, ir.Ev("a"))
	old := h.n
	h.Dispose()
	h.Dispose()
	assert.Equal(t, 0, f.graph.Len())

	f.store.Reset(ir.Map{"a": ir.Int(2)})
	assert.Equal(t, 1, f.runs["a"], "disposed node is never recomputed")

	h2 := f.subscribe(t, ir.Ev("a"))
	assert.NotSame(t, old, h2.n)
	assert.Equal(t, ir.Int(2), deref(t, h2))
	assert.Equal(t, 2, f.runs["a"])
}

func TestStoreChange_LazyRecompute(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	h := f.subscribe(t, ir.Ev("a"))

	f.store.Reset(ir.Map{"a": ir.Int(2)})
	f.store.Reset(ir.Map{"a": ir.Int(3)})
	assert.Equal(t, 1, f.runs["a"], "no recompute until read")

	assert.Equal(t, ir.Int(3), deref(t, h))
	assert.Equal(t, 2, f.runs["a"])
}

func TestStoreChange_IdenticalDBDoesNothing(t *testing.T) {
	db := ir.Map{"a": ir.Int(1)}
	f := newFixture(t, db)
	f.field("a", "a")
	h := f.subscribe(t, ir.Ev("a"))

	assert.False(t, f.store.Reset(db))
	deref(t, h)
	assert.Equal(t, 1, f.runs["a"])
	assert.Equal(t, clean, h.n.state)
}

func TestDiamond_ComputedOncePerChange(t *testing.T) {
	f := newFixture(t, ir.Map{"n": ir.Int(1)})
	f.field("n", "n")
	Register(f.reg, "double", []Input{From(ir.Ev("n"))}, func(in []any, _ ir.Vector) (any, error) {
		f.runs["double"]++
		return in[0].(ir.Int) * 2, nil
	})
	Register(f.reg, "square", []Input{From(ir.Ev("n"))}, func(in []any, _ ir.Vector) (any, error) {
		f.runs["square"]++
		return in[0].(ir.Int) * in[0].(ir.Int), nil
	})
	Register(f.reg, "sum", []Input{From(ir.Ev("double")), From(ir.Ev("square"))}, func(in []any, _ ir.Vector) (any, error) {
		f.runs["sum"]++
		return in[0].(ir.Int) + in[1].(ir.Int), nil
	})

	sum := f.subscribe(t, ir.Ev("sum"))
	double := f.subscribe(t, ir.Ev("double"))
	assert.Equal(t, ir.Int(3), deref(t, sum))

	f.store.Reset(ir.Map{"n": ir.Int(3)})
	assert.Equal(t, ir.Int(15), deref(t, sum))
	assert.Equal(t, ir.Int(6), deref(t, double))

	assert.Equal(t, map[string]int{"n": 2, "double": 2, "square": 2, "sum": 2}, f.runs)
	assert.Equal(t, 2, f.graph.nodes[ir.MustKey(ir.Ev("n"))].refs, "n is held by double and square")
}

func TestEqualityCutoff(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1), "b": ir.Int(1)})
	f.field("a", "a")
	Register(f.reg, "a-label", []Input{From(ir.Ev("a"))}, func(in []any, _ ir.Vector) (any, error) {
		f.runs["a-label"]++
		return ir.String("a is " + ir.Format(in[0].(ir.Value))), nil
	})
	h := f.subscribe(t, ir.Ev("a-label"))

	f.store.Reset(ir.Map{"a": ir.Int(1), "b": ir.Int(2)})
	assert.Equal(t, ir.String("a is 1"), deref(t, h))

	assert.Equal(t, 2, f.runs["a"], "a reads the store so it recomputes")
	assert.Equal(t, 1, f.runs["a-label"], "a-label's input kept its value")
}

func TestComputeError_StaysStaleAndRetries(t *testing.T) {
	f := newFixture(t, ir.Map{"ok": ir.Bool(true)})
	Register(f.reg, "fragile", []Input{FromDB()}, func(in []any, _ ir.Vector) (any, error) {
		f.runs["fragile"]++
		if in[0].(ir.Map)["ok"] != ir.Bool(true) {
			return nil, errors.New("not ok")
		}
		return ir.String("fine"), nil
	})
	h := f.subscribe(t, ir.Ev("fragile"))

	f.store.Reset(ir.Map{"ok": ir.Bool(false)})
	_, err := h.Deref()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription [:fragile]: not ok")

	_, err = h.Deref()
	require.Error(t, err)
	assert.Equal(t, 3, f.runs["fragile"], "stale node retries on every read")

	f.store.Reset(ir.Map{"ok": ir.Bool(true)})
	assert.Equal(t, ir.String("fine"), deref(t, h))
}

func TestComputePanic(t *testing.T) {
	f := newFixture(t, ir.Map{})
	Register(f.reg, "panics", []Input{FromDB()}, func([]any, ir.Vector) (any, error) {
		panic("bad compute")
	})

	h := f.subscribe(t, ir.Ev("panics"))
	_, err := h.Deref()
	assert.True(t, rterr.IsHandlerFailed(err))
}

func TestSubscribe_Errors(t *testing.T) {
	f := newFixture(t, ir.Map{})
	Register(f.reg, "needs-missing", []Input{FromDB(), From(ir.Ev("missing"))}, func([]any, ir.Vector) (any, error) {
		return nil, nil
	})
	Register(f.reg, "loop", []Input{From(ir.Ev("loop"))}, func([]any, ir.Vector) (any, error) {
		return nil, nil
	})

	_, err := f.graph.Subscribe(ir.Ev("missing"))
	assert.True(t, rterr.Is(err, rterr.CodeUnknownSubscription))

	_, err = f.graph.Subscribe(ir.Ev("needs-missing"))
	assert.True(t, rterr.Is(err, rterr.CodeUnknownSubscription))

	_, err = f.graph.Subscribe(ir.Ev("loop"))
	assert.ErrorIs(t, err, ErrCycle)

	_, err = f.graph.Subscribe(ir.V(ir.String("not-a-keyword")))
	assert.True(t, rterr.Is(err, rterr.CodeUnknownSubscription))

	assert.Equal(t, 0, f.graph.Len(), "failed subscribes leave nothing behind")
}

func TestSubscribe_FailedInputReleasesSiblings(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	Register(f.reg, "half", []Input{From(ir.Ev("a")), From(ir.Ev("missing"))}, func([]any, ir.Vector) (any, error) {
		return nil, nil
	})

	_, err := f.graph.Subscribe(ir.Ev("half"))
	require.Error(t, err)
	assert.Equal(t, 0, f.graph.Len())
}

func TestFromQuery_Parameterised(t *testing.T) {
	f := newFixture(t, ir.Map{"todos": ir.Map{"1": ir.String("milk"), "2": ir.String("eggs")}})
	Register(f.reg, "todos", []Input{FromDB()}, func(in []any, _ ir.Vector) (any, error) {
		return in[0].(ir.Map)["todos"], nil
	})
	Register(f.reg, "todo", []Input{FromQuery(func(q ir.Vector) ir.Vector {
		return ir.Ev("todos")
	})}, func(in []any, q ir.Vector) (any, error) {
		return in[0].(ir.Map)[string(q[1].(ir.String))], nil
	})

	h1 := f.subscribe(t, ir.Ev("todo", ir.String("1")))
	h2 := f.subscribe(t, ir.Ev("todo", ir.String("2")))

	assert.Equal(t, ir.String("milk"), deref(t, h1))
	assert.Equal(t, ir.String("eggs"), deref(t, h2))
	assert.Equal(t, 3, f.graph.Len())
}

func TestDispose_Transitive(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	Register(f.reg, "b", []Input{From(ir.Ev("a"))}, func(in []any, _ ir.Vector) (any, error) { return in[0], nil })
	Register(f.reg, "c", []Input{From(ir.Ev("b"))}, func(in []any, _ ir.Vector) (any, error) { return in[0], nil })

	c := f.subscribe(t, ir.Ev("c"))
	a := f.subscribe(t, ir.Ev("a"))
	assert.Equal(t, 3, f.graph.Len())

	c.Dispose()
	assert.Equal(t, []ir.Vector{ir.Ev("a")}, f.graph.Queries(), "b is released, a is still held")

	a.Dispose()
	assert.Equal(t, 0, f.graph.Len())
}

func TestClearCache(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	h1 := f.subscribe(t, ir.Ev("a"))
	f.subscribe(t, ir.Ev("a"))

	f.graph.ClearCache()

	assert.Equal(t, 0, f.graph.Len())
	assert.True(t, h1.Disposed())
	_, err := h1.Deref()
	assert.ErrorIs(t, err, ErrDisposed)
	h1.Dispose()

	h3 := f.subscribe(t, ir.Ev("a"))
	assert.Equal(t, ir.Int(1), deref(t, h3))
	assert.Equal(t, 1, h3.n.refs)
}

func TestCheckpointRollback(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1), "b": ir.Int(2)})
	f.field("a", "a")
	f.field("b", "b")
	Register(f.reg, "a+", []Input{From(ir.Ev("a"))}, func(in []any, _ ir.Vector) (any, error) { return in[0], nil })

	before := f.subscribe(t, ir.Ev("a"))
	cp := f.graph.Checkpoint()

	after := f.subscribe(t, ir.Ev("b"))
	derived := f.subscribe(t, ir.Ev("a+"))
	shared := f.subscribe(t, ir.Ev("a"))

	assert.Equal(t, 2, f.graph.Rollback(cp))

	assert.Equal(t, []ir.Vector{ir.Ev("a")}, f.graph.Queries())
	assert.False(t, before.Disposed())
	assert.True(t, after.Disposed())
	assert.True(t, derived.Disposed())
	assert.True(t, shared.Disposed(), "a handle taken after the checkpoint is released")
	assert.Equal(t, ir.Int(1), deref(t, before))
	assert.Equal(t, 1, f.graph.nodes[ir.MustKey(ir.Ev("a"))].refs)

	shared.Dispose()
	before.Dispose()
	assert.Equal(t, 0, f.graph.Len(), "nothing outlives its pre-checkpoint holders")
}

func TestWatch(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	Register(f.reg, "b", []Input{From(ir.Ev("a"))}, func(in []any, _ ir.Vector) (any, error) { return in[0], nil })
	h := f.subscribe(t, ir.Ev("b"))

	calls := 0
	cancel := h.Watch(func() { calls++ })

	f.store.Reset(ir.Map{"a": ir.Int(2)})
	assert.Equal(t, 1, calls)

	f.store.Reset(ir.Map{"a": ir.Int(3)})
	assert.Equal(t, 1, calls, "no notification while already stale")

	assert.Equal(t, ir.Int(3), deref(t, h))
	f.store.Reset(ir.Map{"a": ir.Int(4)})
	assert.Equal(t, 2, calls)

	cancel()
	deref(t, h)
	f.store.Reset(ir.Map{"a": ir.Int(5)})
	assert.Equal(t, 2, calls)
}

func TestWatch_CancelledByDispose(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	h1 := f.subscribe(t, ir.Ev("a"))
	h2 := f.subscribe(t, ir.Ev("a"))

	var first, second int
	h1.Watch(func() { first++ })
	h2.Watch(func() { second++ })

	h1.Dispose()
	f.store.Reset(ir.Map{"a": ir.Int(2)})

	assert.Zero(t, first, "a disposed handle is not notified")
	assert.Equal(t, 1, second)
	assert.False(t, h2.Disposed())

	cancel := h1.Watch(func() { first++ })
	cancel()
	deref(t, h2)
	f.store.Reset(ir.Map{"a": ir.Int(3)})
	assert.Zero(t, first)
	assert.Equal(t, 2, second)
}

func TestWatch_MayDeref(t *testing.T) {
	f := newFixture(t, ir.Map{"a": ir.Int(1)})
	f.field("a", "a")
	h := f.subscribe(t, ir.Ev("a"))

	var seen []any
	h.Watch(func() { seen = append(seen, deref(t, h)) })

	f.store.Reset(ir.Map{"a": ir.Int(2)})
	f.store.Reset(ir.Map{"a": ir.Int(3)})
	assert.Equal(t, []any{ir.Int(2), ir.Int(3)}, seen)
}

func TestSubscribe_DistinctByteStrings(t *testing.T) {
	f := newFixture(t, ir.Map{})
	Register(f.reg, "echo", []Input{FromDB()}, func(in []any, q ir.Vector) (any, error) {
		return q[1], nil
	})

	pairs := [][2]ir.String{
		{"\xff", "\xfe"},
		{"\u00e9", "e\u0301"},
	}
	for _, p := range pairs {
		a := f.subscribe(t, ir.Ev("echo", p[0]))
		b := f.subscribe(t, ir.Ev("echo", p[1]))

		assert.NotSame(t, a.n, b.n)
		assert.Equal(t, p[0], deref(t, a))
		assert.Equal(t, p[1], deref(t, b))
	}
	assert.Equal(t, 4, f.graph.Len())
}
