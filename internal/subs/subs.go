// Package subs implements the subscription graph: cached values derived
// from the store and from other subscriptions.
//
// Nodes live in an arena keyed by the structural key of their query
// vector, so equal queries share one node. Each node counts its consumers:
// handles returned by Subscribe and downstream nodes. When the count drops
// to zero the node is evicted and releases its own inputs, which may evict
// them in turn.
//
// A store change marks nodes that read the store dirty and everything
// downstream of them check. Nothing is recomputed until a value is read.
// Reading a check node first brings its inputs up to date; if none of them
// changed value it becomes clean without running its compute function. A
// diamond is therefore computed at most once per store change.
//
// Compute functions run with the graph locked. They must be pure and must
// not call back into the graph.
package subs

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/roach88/signalbox/internal/appdb"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

// ErrDisposed is returned when reading a handle whose node was disposed.
var ErrDisposed = errors.New("subscription disposed")

// ErrCycle is returned when a subscription's inputs lead back to itself.
var ErrCycle = errors.New("cyclic subscription inputs")

// Compute derives a value from the input values, in declaration order.
type Compute func(inputs []any, query ir.Vector) (any, error)

// Input declares one upstream of a subscription.
type Input struct {
	db     bool
	query  ir.Vector
	derive func(q ir.Vector) ir.Vector
}

// FromDB reads the whole store.
func FromDB() Input { return Input{db: true} }

// From reads the subscription for q.
func From(q ir.Vector) Input { return Input{query: q} }

// FromQuery reads the subscription for the query derived from the
// subscribing query, for parameterised subscriptions.
func FromQuery(fn func(q ir.Vector) ir.Vector) Input { return Input{derive: fn} }

func (in Input) resolve(q ir.Vector) ir.Vector {
	if in.derive != nil {
		return in.derive(q)
	}
	return in.query
}

type sub struct {
	inputs  []Input
	compute Compute
}

// Register stores a subscription under id, replacing any previous one.
// Nodes already in the graph keep the definition they were built with.
func Register(reg *registrar.Registrar, id ir.Keyword, inputs []Input, compute Compute) {
	in := make([]Input, len(inputs))
	copy(in, inputs)
	reg.Register(registrar.KindSub, id, sub{inputs: in, compute: compute})
}

type state uint8

const (
	clean state = iota
	check
	dirty
)

type node struct {
	serial  uint64
	key     string
	query   ir.Vector
	compute Compute

	// upstream holds one entry per input; nil is the store.
	upstream []*node
	// seen holds the version of each input at the last compute.
	seen []uint64

	value    any
	version  uint64
	computed bool
	state    state

	refs       int
	downstream map[*node]struct{}
	watchers   map[int]func()
	nextWatch  int
	handles    map[*Handle]struct{}
	disposed   bool
}

// Graph is the subscription cache of one runtime.
type Graph struct {
	reg   *registrar.Registrar
	store *appdb.Store
	logs  *loggers.Loggers

	mu        sync.Mutex
	nodes     map[string]*node
	serial    uint64
	handles   uint64
	db        any
	dbVersion uint64
	building  map[string]bool
}

const watchKey = "subs"

// New creates a graph over store and starts watching it.
func New(reg *registrar.Registrar, store *appdb.Store, logs *loggers.Loggers) *Graph {
	g := &Graph{
		reg:      reg,
		store:    store,
		logs:     logs,
		nodes:    make(map[string]*node),
		db:       store.Get(),
		building: make(map[string]bool),
	}
	store.Watch(watchKey, func(_, v any) { g.storeChanged(v) })
	return g
}

// Close stops watching the store.
func (g *Graph) Close() {
	g.store.Unwatch(watchKey)
}

// Subscribe returns a handle to the node for q, creating and computing it if
// needed. A compute error does not fail Subscribe; it is returned by Deref.
func (g *Graph) Subscribe(q ir.Vector) (*Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.acquire(q)
	if err != nil {
		return nil, err
	}
	g.handles++
	h := &Handle{g: g, n: n, serial: g.handles}
	n.handles[h] = struct{}{}
	return h, nil
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Queries returns the queries of all live nodes in creation order.
func (g *Graph) Queries() []ir.Vector {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := g.sortedNodes()
	out := make([]ir.Vector, len(nodes))
	for i, n := range nodes {
		out[i] = n.query
	}
	return out
}

// ClearCache disposes every node regardless of its consumers. Existing
// handles return ErrDisposed.
func (g *Graph) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.disposed = true
		n.watchers = nil
	}
	g.nodes = make(map[string]*node)
}

// Checkpoint marks the current set of live nodes and handles.
type Checkpoint struct {
	serial  uint64
	handles uint64
}

// Checkpoint returns a marker for Rollback.
func (g *Graph) Checkpoint() Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Checkpoint{serial: g.serial, handles: g.handles}
}

// Rollback disposes every node created after cp, newest first, and every
// handle taken after cp on an older node. It returns how many nodes were
// disposed. Nodes that existed at cp stay live as long as something that
// predates cp still holds them.
func (g *Graph) Rollback(cp Checkpoint) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := g.sortedNodes()
	disposed := 0
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.serial <= cp.serial || n.disposed {
			continue
		}
		for h := range n.handles {
			h.disposed = true
		}
		n.handles = nil
		n.refs = 0
		g.dispose(n)
		disposed++
	}

	for _, n := range g.sortedNodes() {
		for h := range n.handles {
			if h.serial > cp.handles {
				g.releaseHandle(h)
			}
		}
	}
	return disposed
}

func (g *Graph) sortedNodes() []*node {
	out := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].serial < out[j].serial })
	return out
}

// acquire returns the live node for q with one more consumer.
func (g *Graph) acquire(q ir.Vector) (*node, error) {
	key, err := ir.Key(q)
	if err != nil {
		return nil, fmt.Errorf("subscription key: %w", err)
	}
	if n, ok := g.nodes[key]; ok {
		n.refs++
		return n, nil
	}

	id, err := ir.EventID(q)
	if err != nil {
		return nil, rterr.New(rterr.CodeUnknownSubscription, "invalid query %s", ir.Format(q)).Wrap(err)
	}
	h, ok := g.reg.Get(registrar.KindSub, id)
	if !ok {
		return nil, rterr.New(rterr.CodeUnknownSubscription, "no subscription registered for %s", ir.Format(q)).WithKind(id.String())
	}
	def := h.(sub)

	if g.building[key] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, ir.Format(q))
	}
	g.building[key] = true
	defer delete(g.building, key)

	upstream := make([]*node, len(def.inputs))
	for i, in := range def.inputs {
		if in.db {
			continue
		}
		up, err := g.acquire(in.resolve(q))
		if err != nil {
			for _, acquired := range upstream[:i] {
				if acquired != nil {
					g.release(acquired)
				}
			}
			return nil, fmt.Errorf("input %d of %s: %w", i, ir.Format(q), err)
		}
		upstream[i] = up
	}

	g.serial++
	n := &node{
		serial:     g.serial,
		key:        key,
		query:      q,
		compute:    def.compute,
		upstream:   upstream,
		seen:       make([]uint64, len(upstream)),
		state:      dirty,
		refs:       1,
		downstream: make(map[*node]struct{}),
		handles:    make(map[*Handle]struct{}),
	}
	for _, up := range upstream {
		if up != nil {
			up.downstream[n] = struct{}{}
		}
	}
	g.nodes[key] = n

	if err := g.ensure(n); err != nil {
		g.logs.Debug("initial compute failed", "query", ir.Format(q), "error", err)
	}
	return n, nil
}

// releaseHandle detaches h and its watches from its node, then releases the
// node.
func (g *Graph) releaseHandle(h *Handle) {
	if h.disposed {
		return
	}
	h.disposed = true
	n := h.n
	for _, id := range h.watches {
		delete(n.watchers, id)
	}
	h.watches = nil
	delete(n.handles, h)
	g.release(n)
}

// release drops one consumer of n and disposes it at zero.
func (g *Graph) release(n *node) {
	if n.disposed {
		return
	}
	n.refs--
	if n.refs > 0 {
		return
	}
	g.dispose(n)
}

func (g *Graph) dispose(n *node) {
	if n.disposed {
		return
	}
	n.disposed = true
	n.watchers = nil
	if g.nodes[n.key] == n {
		delete(g.nodes, n.key)
	}
	for _, up := range n.upstream {
		if up != nil {
			delete(up.downstream, n)
			g.release(up)
		}
	}
}

// ensure brings n up to date.
func (g *Graph) ensure(n *node) error {
	if n.disposed {
		return ErrDisposed
	}
	if n.state == clean {
		return nil
	}
	for _, up := range n.upstream {
		if up == nil {
			continue
		}
		if err := g.ensure(up); err != nil {
			return err
		}
	}

	versions := g.inputVersions(n)
	if n.state == check && n.computed && slicesEqual(versions, n.seen) {
		n.state = clean
		return nil
	}

	v, err := g.run(n)
	if err != nil {
		n.state = dirty
		return err
	}
	if !n.computed || !reflect.DeepEqual(v, n.value) {
		n.value = v
		n.version++
		n.computed = true
	}
	n.seen = versions
	n.state = clean
	return nil
}

func (g *Graph) run(n *node) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rterr.Recovered("subscription "+ir.Format(n.query), r)
		}
	}()

	inputs := make([]any, len(n.upstream))
	for i, up := range n.upstream {
		if up == nil {
			inputs[i] = g.db
		} else {
			inputs[i] = up.value
		}
	}
	v, err = n.compute(inputs, n.query)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", ir.Format(n.query), err)
	}
	return v, nil
}

func (g *Graph) inputVersions(n *node) []uint64 {
	out := make([]uint64, len(n.upstream))
	for i, up := range n.upstream {
		if up == nil {
			out[i] = g.dbVersion
		} else {
			out[i] = up.version
		}
	}
	return out
}

func (g *Graph) storeChanged(v any) {
	g.mu.Lock()
	g.db = v
	g.dbVersion++

	var notify []func()
	for _, n := range g.sortedNodes() {
		for _, up := range n.upstream {
			if up == nil {
				notify = g.mark(n, dirty, notify)
				break
			}
		}
	}
	g.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// mark raises n to at least s and propagates check downstream. It returns
// notify extended with the watchers of nodes that just went stale.
func (g *Graph) mark(n *node, s state, notify []func()) []func() {
	was := n.state
	if s > n.state {
		n.state = s
	}
	if was != clean {
		return notify
	}
	notify = append(notify, sortedWatchers(n)...)
	for down := range n.downstream {
		notify = g.mark(down, check, notify)
	}
	return notify
}

func sortedWatchers(n *node) []func() {
	ids := make([]int, 0, len(n.watchers))
	for id := range n.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(), len(ids))
	for i, id := range ids {
		out[i] = n.watchers[id]
	}
	return out
}

func slicesEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
