// Package registrar holds the handler registries of one runtime instance.
//
// Handlers are stored per kind (event, fx, cofx, sub) and keyed by keyword
// id. Registration replaces any existing entry. A Registrar is owned by a
// single runtime; nothing here is a package global, so several runtimes can
// coexist in one process.
//
// Registration is expected at startup. Registering while events are being
// drained is safe for memory but the ordering relative to in-flight events
// is unspecified.
package registrar

import (
	"sort"
	"sync"

	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
)

// Kind identifies a registry.
type Kind string

const (
	KindEvent Kind = "event"
	KindFx    Kind = "fx"
	KindCofx  Kind = "cofx"
	KindSub   Kind = "sub"
)

// Kinds lists every registry kind.
var Kinds = []Kind{KindEvent, KindFx, KindCofx, KindSub}

// Registrar maps (kind, id) to a handler.
type Registrar struct {
	mu       sync.RWMutex
	handlers map[Kind]map[ir.Keyword]any
	logs     *loggers.Loggers
}

// New creates an empty registrar. Overwrites are reported on the debug
// channel of logs, which may be nil.
func New(logs *loggers.Loggers) *Registrar {
	return &Registrar{
		handlers: make(map[Kind]map[ir.Keyword]any),
		logs:     logs,
	}
}

// Register adds or replaces a handler.
func (r *Registrar) Register(kind Kind, id ir.Keyword, handler any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.handlers[kind]
	if !ok {
		byID = make(map[ir.Keyword]any)
		r.handlers[kind] = byID
	}
	if _, exists := byID[id]; exists && r.logs != nil {
		r.logs.Debug("overwriting handler", "kind", string(kind), "id", id.String())
	}
	byID[id] = handler
}

// Get returns the handler for (kind, id).
func (r *Registrar) Get(kind Kind, id ir.Keyword) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind][id]
	return h, ok
}

// Clear removes one handler. Clearing a missing id is a no-op and returns
// false.
func (r *Registrar) Clear(kind Kind, id ir.Keyword) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind][id]; !ok {
		return false
	}
	delete(r.handlers[kind], id)
	return true
}

// ClearKind removes every handler of a kind.
func (r *Registrar) ClearKind(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// IDs returns the registered ids of a kind in sorted order.
func (r *Registrar) IDs(kind Kind) []ir.Keyword {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ir.Keyword, 0, len(r.handlers[kind]))
	for id := range r.handlers[kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot is an immutable copy of every registry.
type Snapshot struct {
	handlers map[Kind]map[ir.Keyword]any
}

// Snapshot copies the current registrations.
func (r *Registrar) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{handlers: copyHandlers(r.handlers)}
}

// Restore replaces every registration with the snapshot's contents.
func (r *Registrar) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = copyHandlers(s.handlers)
}

func copyHandlers(src map[Kind]map[ir.Keyword]any) map[Kind]map[ir.Keyword]any {
	out := make(map[Kind]map[ir.Keyword]any, len(src))
	for kind, byID := range src {
		m := make(map[ir.Keyword]any, len(byID))
		for id, h := range byID {
			m[id] = h
		}
		out[kind] = m
	}
	return out
}
