package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/signalbox/internal/ir"
)

// Scenario defines a runtime scenario: an initial db, the events to run,
// and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DB is the initial app-db. Defaults to demo.InitialDB when absent.
	DB any `yaml:"db,omitempty"`

	// Setup events are processed synchronously before the steps and are
	// not traced. Any setup failure aborts the scenario.
	Setup [][]any `yaml:"setup,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the final drain.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one of Dispatch, DispatchSync,
// Advance, Run or Purge is set, or none when the step only carries Expect.
type Step struct {
	// Dispatch queues an event.
	Dispatch []any `yaml:"dispatch,omitempty"`

	// DispatchSync processes an event immediately.
	DispatchSync []any `yaml:"dispatch_sync,omitempty"`

	// Error is a substring the DispatchSync error must contain. Without
	// it a DispatchSync error fails the scenario.
	Error string `yaml:"error,omitempty"`

	// Advance moves the fake timer by this many delay units and drains.
	Advance int64 `yaml:"advance,omitempty"`

	// Run drains the queue.
	Run bool `yaml:"run,omitempty"`

	// Purge drops every queued event.
	Purge bool `yaml:"purge,omitempty"`

	// Expect is checked right after the step.
	Expect []Assertion `yaml:"expect,omitempty"`
}

// Assertion validates the trace, the db, or a subscription.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is an event id (trace_count, error) or an event prefix
	// (trace_contains).
	Event any `yaml:"event,omitempty"`

	// Events are event ids that must appear in order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Query is a subscription query (sub).
	Query []any `yaml:"query,omitempty"`

	// Path is a key path into the db (db). Empty means the whole db.
	Path []string `yaml:"path,omitempty"`

	// Value is the expected value (sub, db).
	Value any `yaml:"value,omitempty"`

	// Contains is a substring of the expected error message (error).
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertSub           = "sub"
	AssertDB            = "db"
	AssertError         = "error"
	AssertNoErrors      = "no_errors"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject typos like "assertion:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("scenario %q defined in both %s and %s", s.Name, prev, p)
		}
		seen[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.DB != nil {
		if _, err := ir.FromNative(s.DB); err != nil {
			return fmt.Errorf("db: %w", err)
		}
	}
	for i, ev := range s.Setup {
		if _, err := toEvent(ev); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	actions := 0
	if st.Dispatch != nil {
		actions++
		if _, err := toEvent(st.Dispatch); err != nil {
			return fmt.Errorf("steps[%d].dispatch: %w", index, err)
		}
	}
	if st.DispatchSync != nil {
		actions++
		if _, err := toEvent(st.DispatchSync); err != nil {
			return fmt.Errorf("steps[%d].dispatch_sync: %w", index, err)
		}
	}
	if st.Advance != 0 {
		actions++
		if st.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	}
	if st.Run {
		actions++
	}
	if st.Purge {
		actions++
	}

	switch {
	case actions > 1:
		return fmt.Errorf("steps[%d]: only one of dispatch, dispatch_sync, advance, run, purge may be set", index)
	case actions == 0 && len(st.Expect) == 0:
		return fmt.Errorf("steps[%d]: step has no action and no expect", index)
	}
	if st.Error != "" && st.DispatchSync == nil {
		return fmt.Errorf("steps[%d]: error is only valid with dispatch_sync", index)
	}

	for i := range st.Expect {
		if err := validateAssertion(fmt.Sprintf("steps[%d].expect[%d]", index, i), &st.Expect[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(where string, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", where)
	}

	switch a.Type {
	case AssertTraceContains:
		if _, err := eventPrefix(a.Event); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("%s: events list is required for trace_order", where)
		}
	case AssertTraceCount:
		if _, err := eventIDOf(a.Event); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative for trace_count", where)
		}
	case AssertSub:
		if _, err := toEvent(a.Query); err != nil {
			return fmt.Errorf("%s: query: %w", where, err)
		}
		if _, err := ir.FromNative(a.Value); err != nil {
			return fmt.Errorf("%s: value: %w", where, err)
		}
	case AssertDB:
		if _, err := ir.FromNative(a.Value); err != nil {
			return fmt.Errorf("%s: value: %w", where, err)
		}
	case AssertError:
		if _, err := eventIDOf(a.Event); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case AssertNoErrors:
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}
	return nil
}

// toEvent converts a YAML list into an event vector whose first element
// is a keyword.
func toEvent(raw []any) (ir.Vector, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("event must be a non-empty list")
	}
	v, err := ir.FromNative(raw)
	if err != nil {
		return nil, err
	}
	ev := v.(ir.Vector)
	if _, err := ir.EventID(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// eventIDOf accepts ":id" or "id".
func eventIDOf(raw any) (ir.Keyword, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("event id is required")
	}
	if s[0] == ':' {
		s = s[1:]
	}
	if s == "" {
		return "", fmt.Errorf("event id is required")
	}
	return ir.Keyword(s), nil
}

// eventPrefix accepts an event id or a list prefix of an event.
func eventPrefix(raw any) (ir.Vector, error) {
	if list, ok := raw.([]any); ok {
		return toEvent(list)
	}
	id, err := eventIDOf(raw)
	if err != nil {
		return nil, err
	}
	return ir.V(id), nil
}
