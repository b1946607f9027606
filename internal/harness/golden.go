package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/statecore/internal/canonical"
)

// GoldenSuffix is the file extension of golden traces.
const GoldenSuffix = ".golden"

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any so empty
// fields are dropped before canonical serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type":  event.Type,
			"step":  event.Step,
			"state": event.State,
		}
		if event.Seq != 0 {
			eventMap["seq"] = event.Seq
		}
		if event.Module != "" {
			eventMap["module"] = event.Module
		}
		if event.Name != "" {
			eventMap["name"] = event.Name
		}
		if event.View != "" {
			eventMap["view"] = event.View
		}
		if event.Subscription != "" {
			eventMap["subscription"] = event.Subscription
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalTrace serializes a scenario trace as canonical JSON, the format
// golden files are stored in.
func MarshalTrace(scenarioName string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        trace,
	}
	return canonical.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(GoldenSuffix),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}

// CompareGolden reports whether the result's trace matches
// dir/{scenarioName}.golden. A missing golden file is an error.
func CompareGolden(dir, scenarioName string, result *Result) (bool, error) {
	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return false, err
	}

	want, err := os.ReadFile(GoldenPath(dir, scenarioName))
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	return bytes.Equal(bytes.TrimSpace(want), traceJSON), nil
}

// WriteGolden writes the result's trace to dir/{scenarioName}.golden.
func WriteGolden(dir, scenarioName string, result *Result) error {
	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(GoldenPath(dir, scenarioName), traceJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// GoldenPath returns the golden file path for a scenario.
func GoldenPath(dir, scenarioName string) string {
	return filepath.Join(dir, scenarioName+GoldenSuffix)
}
