package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/signalbox/internal/ir"
)

// TraceSnapshot captures the trace and final db of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	DB           ir.Value     `json:"db"`
}

// Canonical renders the snapshot as canonical JSON. Error messages are
// included for failed events.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	trace := make(ir.Vector, len(s.Trace))
	for i, te := range s.Trace {
		m := ir.Map{
			"seq":     ir.Int(te.Seq),
			"event":   te.Event,
			"outcome": ir.String(te.Outcome),
			"queued":  ir.Int(te.Queued),
		}
		if te.Error != "" {
			m["error"] = ir.String(te.Error)
		}
		trace[i] = m
	}

	var db ir.Value = ir.Null{}
	if s.DB != nil {
		db = s.DB
	}
	return ir.MarshalCanonical(ir.Map{
		"scenario_name": ir.String(s.ScenarioName),
		"trace":         trace,
		"db":            db,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		DB:           result.DB,
	}
	data, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
