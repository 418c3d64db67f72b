package harness

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTrace renders a trace as stable text for golden comparison.
//
// One line per step, followed by an indented line per journaled event:
//
//	step propose alice(human) {"id":"REQ-001","path":"limit","value":10}: ok
//	  3 proposal.opened REQ-001:limit #1 change={"value":10} status="OPEN"
//
// Args and event data render as JSON with sorted keys. Timestamps and
// hashes are left out so the text only changes when behavior does.
func RenderTrace(scenarioName string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenarioName)
	for _, entry := range result.Trace {
		switch entry.Type {
		case TraceStep:
			fmt.Fprintf(&b, "step %s %s %s: %s\n", entry.Action, entry.Actor, jsonText(entry.Args), entry.Outcome)
		case TraceEvent:
			fmt.Fprintf(&b, "  %s\n", eventLine(entry))
		}
	}
	return []byte(b.String())
}

// eventLine renders one event: seq, kind, subject and data.
func eventLine(e TraceEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s", e.Seq, e.Kind, e.Requirement)
	if e.Field != "" {
		b.WriteString(":" + e.Field)
	}
	if e.Proposal != 0 {
		fmt.Fprintf(&b, " #%d", e.Proposal)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Data)) {
		fmt.Fprintf(&b, " %s=%s", k, jsonText(e.Data[k]))
	}
	return b.String()
}

func jsonText(v any) string {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors. Test
// failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()
	newGolden(t).Assert(t, scenarioName, RenderTrace(scenarioName, result))
}
