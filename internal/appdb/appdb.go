// Package appdb holds the application store: a single cell with the current
// application state.
//
// The state is an opaque value whose shape belongs to the application. The
// store only ever replaces the whole value. A proposed value identical to
// the current one is a no-op: no mutation happens and no watcher runs.
package appdb

import (
	"reflect"
	"sort"
	"sync"
)

// Store is the mutable cell. Safe for concurrent use; watchers run on the
// goroutine that called Reset, after the lock is released.
type Store struct {
	mu       sync.RWMutex
	value    any
	version  uint64
	watchers map[string]func(old, new any)
}

// New creates a store holding initial.
func New(initial any) *Store {
	return &Store{
		value:    initial,
		watchers: make(map[string]func(old, new any)),
	}
}

// Get returns the current value.
func (s *Store) Get() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Version returns a counter incremented on every effective Reset.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Reset replaces the value and notifies watchers. It returns false, and does
// nothing, when v is identical to the current value.
func (s *Store) Reset(v any) bool {
	s.mu.Lock()
	old := s.value
	if Identical(old, v) {
		s.mu.Unlock()
		return false
	}
	s.value = v
	s.version++
	watchers := s.sortedWatchers()
	s.mu.Unlock()

	for _, w := range watchers {
		w(old, v)
	}
	return true
}

// Watch registers fn under key, replacing any watcher with the same key.
func (s *Store) Watch(key string, fn func(old, new any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[key] = fn
}

// Unwatch removes the watcher registered under key.
func (s *Store) Unwatch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, key)
}

func (s *Store) sortedWatchers() []func(old, new any) {
	keys := make([]string, 0, len(s.watchers))
	for k := range s.watchers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]func(old, new any), len(keys))
	for i, k := range keys {
		out[i] = s.watchers[k]
	}
	return out
}

// Identical reports whether a and b are the same value. Maps, slices,
// pointers, channels and funcs are identical only when they share the
// same underlying storage; comparable values are compared with ==.
// Structurally equal but separately allocated collections are not identical.
func Identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if va.Comparable() {
		return va.Equal(vb)
	}
	return false
}
