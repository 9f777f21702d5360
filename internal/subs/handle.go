package subs

import "github.com/roach88/signalbox/internal/ir"

// Handle is one consumer's reference to a subscription node.
type Handle struct {
	g        *Graph
	n        *node
	serial   uint64
	watches  []int
	disposed bool
}

// Query returns the query the handle was created for.
func (h *Handle) Query() ir.Vector {
	return h.n.query
}

// Deref returns the current value, recomputing first if the store changed
// since the last read. A compute error leaves the node stale so the next
// Deref retries.
func (h *Handle) Deref() (any, error) {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()

	if h.disposed {
		return nil, ErrDisposed
	}
	if err := h.g.ensure(h.n); err != nil {
		return nil, err
	}
	return h.n.value, nil
}

// Dispose releases the handle and cancels its watches. Disposing twice is
// a no-op.
func (h *Handle) Dispose() {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	h.g.releaseHandle(h)
}

// Disposed reports whether the handle or its node has been disposed.
func (h *Handle) Disposed() bool {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.disposed || h.n.disposed
}

// Watch calls fn each time the node goes from up to date to stale. fn runs
// after the store change, outside the graph lock, and may call Deref. The
// returned function cancels the watch; disposing the handle cancels it too.
func (h *Handle) Watch(fn func()) (cancel func()) {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()

	n := h.n
	if h.disposed || n.disposed {
		return func() {}
	}
	if n.watchers == nil {
		n.watchers = make(map[int]func())
	}
	n.nextWatch++
	id := n.nextWatch
	n.watchers[id] = fn
	h.watches = append(h.watches, id)
	return func() {
		h.g.mu.Lock()
		defer h.g.mu.Unlock()
		delete(n.watchers, id)
	}
}
