package testutil

import (
	"sort"
	"sync"
	"time"
)

// FakeTimer is a manually advanced clock and timer. It implements the
// dispatch-later timer and the now coeffect's clock. Callbacks run
// synchronously inside Advance, in due order; ties run in scheduling order.
type FakeTimer struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending []fakeTimer
}

type fakeTimer struct {
	id  int
	due time.Time
	f   func()
}

// NewFakeTimer creates a timer whose clock starts at start.
func NewFakeTimer(start time.Time) *FakeTimer {
	return &FakeTimer{now: start}
}

// Now returns the fake current time.
func (t *FakeTimer) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// AfterFunc schedules f to run once the clock passes now+d.
func (t *FakeTimer) AfterFunc(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.pending = append(t.pending, fakeTimer{id: t.nextID, due: t.now.Add(d), f: f})
}

// Pending returns how many callbacks have not fired.
func (t *FakeTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Advance moves the clock forward by d and fires every callback that became
// due, including callbacks scheduled by fired callbacks within the window.
// It returns how many fired.
func (t *FakeTimer) Advance(d time.Duration) int {
	t.mu.Lock()
	target := t.now.Add(d)
	t.mu.Unlock()

	fired := 0
	for {
		t.mu.Lock()
		sort.SliceStable(t.pending, func(i, j int) bool {
			if t.pending[i].due.Equal(t.pending[j].due) {
				return t.pending[i].id < t.pending[j].id
			}
			return t.pending[i].due.Before(t.pending[j].due)
		})
		if len(t.pending) == 0 || t.pending[0].due.After(target) {
			t.now = target
			t.mu.Unlock()
			return fired
		}
		next := t.pending[0]
		t.pending = t.pending[1:]
		t.now = next.due
		t.mu.Unlock()

		next.f()
		fired++
	}
}
