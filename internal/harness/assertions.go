package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/signalbox/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, te := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", te.Seq, ir.Format(te.Event), te.Outcome)
		}
	}
	return buf.String()
}

// evaluate checks assertions against the current trace and runtime state.
// It returns one message per failed assertion.
func (h *Harness) evaluate(assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := h.check(a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func (h *Harness) check(a Assertion) error {
	trace := h.result.Trace
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertError:
		return assertError(trace, a)
	case AssertNoErrors:
		return assertNoErrors(trace)
	case AssertDB:
		return assertDB(h.rt.DB(), a)
	case AssertSub:
		return h.assertSub(a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertTraceContains checks that some traced event starts with the
// expected prefix.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	prefix, err := eventPrefix(a.Event)
	if err != nil {
		return err
	}
	for _, te := range trace {
		if hasPrefix(te.Event, prefix) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event matching %s", ir.Format(prefix)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the events appear
// in the given order. They need not be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[ir.Keyword]int)
	for i, te := range trace {
		id := te.ID()
		if _, ok := positions[id]; !ok {
			positions[id] = i + 1 // 1-indexed for readability
		}
	}

	ids := make([]ir.Keyword, len(a.Events))
	for i, raw := range a.Events {
		id, err := eventIDOf(raw)
		if err != nil {
			return err
		}
		ids[i] = id
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", id),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(ids); i++ {
		prev, curr := ids[i-1], ids[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that an event id was processed exactly Count
// times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	id, err := eventIDOf(a.Event)
	if err != nil {
		return err
	}
	count := 0
	for _, te := range trace {
		if te.ID() == id {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s processed %d times", id, a.Count),
			Actual:   fmt.Sprintf("processed %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertError checks that an event with the id failed, and that its error
// contains the substring when one is given.
func assertError(trace []TraceEvent, a Assertion) error {
	id, err := eventIDOf(a.Event)
	if err != nil {
		return err
	}
	var seen []string
	for _, te := range trace {
		if te.ID() != id || te.Outcome != OutcomeFailed {
			continue
		}
		if strings.Contains(te.Error, a.Contains) {
			return nil
		}
		seen = append(seen, te.Error)
	}

	actual := "no failure"
	if len(seen) > 0 {
		actual = strings.Join(seen, "; ")
	}
	return &AssertionError{
		Type:     AssertError,
		Expected: fmt.Sprintf("%s failed with error containing %q", id, a.Contains),
		Actual:   actual,
		Trace:    trace,
	}
}

func assertNoErrors(trace []TraceEvent) error {
	for _, te := range trace {
		if te.Outcome == OutcomeFailed {
			return &AssertionError{
				Type:     AssertNoErrors,
				Expected: "every event succeeded",
				Actual:   fmt.Sprintf("%s failed: %s", ir.Format(te.Event), te.Error),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertDB compares the value at Path in the db. A missing path compares
// as null.
func assertDB(db any, a Assertion) error {
	want, err := ir.FromNative(a.Value)
	if err != nil {
		return err
	}

	var got ir.Value = ir.Null{}
	m, isMap := db.(ir.Map)
	switch {
	case len(a.Path) == 0:
		if v, ok := db.(ir.Value); ok {
			got = v
		}
	case isMap:
		if v, ok := m.GetIn(a.Path...); ok {
			got = v
		}
	}

	if !ir.Equal(want, got) {
		return &AssertionError{
			Type:     AssertDB,
			Expected: fmt.Sprintf("db %v = %s", a.Path, ir.Format(want)),
			Actual:   ir.Format(got),
		}
	}
	return nil
}

// assertSub subscribes to the query, derefs it, and disposes the handle.
func (h *Harness) assertSub(a Assertion) error {
	q, err := toEvent(a.Query)
	if err != nil {
		return err
	}
	want, err := ir.FromNative(a.Value)
	if err != nil {
		return err
	}

	handle, err := h.rt.Subscribe(q)
	if err != nil {
		return &AssertionError{
			Type:     AssertSub,
			Expected: fmt.Sprintf("%s = %s", ir.Format(q), ir.Format(want)),
			Actual:   err.Error(),
		}
	}
	defer handle.Dispose()

	v, err := handle.Deref()
	if err != nil {
		return &AssertionError{
			Type:     AssertSub,
			Expected: fmt.Sprintf("%s = %s", ir.Format(q), ir.Format(want)),
			Actual:   err.Error(),
		}
	}
	if v == nil {
		v = ir.Null{}
	}
	got, ok := v.(ir.Value)
	if !ok || !ir.Equal(want, got) {
		return &AssertionError{
			Type:     AssertSub,
			Expected: fmt.Sprintf("%s = %s", ir.Format(q), ir.Format(want)),
			Actual:   formatAny(v),
		}
	}
	return nil
}

func hasPrefix(ev, prefix ir.Vector) bool {
	if len(prefix) > len(ev) {
		return false
	}
	for i := range prefix {
		if !ir.Equal(ev[i], prefix[i]) {
			return false
		}
	}
	return true
}

func formatAny(v any) string {
	if iv, ok := v.(ir.Value); ok {
		return ir.Format(iv)
	}
	return fmt.Sprintf("%v", v)
}
