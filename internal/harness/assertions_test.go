package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// sampleTrace mirrors what the journal yields: numbers arrive as json.Number.
func sampleTrace() []TraceEntry {
	return []TraceEntry{
		{Type: TraceStep, Action: "create", Actor: "alice(human)", Outcome: "ok"},
		{Type: TraceEvent, Seq: 1, Kind: "requirement.created", Requirement: "REQ-001", Actor: "alice(human)",
			Data: map[string]any{"domain": "clinical"}},
		{Type: TraceEvent, Seq: 2, Kind: "proposal.opened", Requirement: "REQ-001", Field: "limit", Proposal: 1, Actor: "alice(human)",
			Data: map[string]any{"status": "OPEN", "change": map[string]any{"value": json.Number("10")}}},
		{Type: TraceEvent, Seq: 3, Kind: "proposal.opened", Requirement: "REQ-001", Field: "limit", Proposal: 2, Actor: "gpt(ai)",
			Data: map[string]any{"status": "CONFLICTING", "conflicts": []any{"VALUE_CONFLICT"}}},
		{Type: TraceEvent, Seq: 4, Kind: "proposal.conflicting", Requirement: "REQ-001", Field: "limit", Proposal: 1, Actor: "gpt(ai)",
			Data: map[string]any{"with": json.Number("2"), "kind": "VALUE_CONFLICT"}},
	}
}

func TestAssertTraceContains(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		where map[string]any
		ok    bool
	}{
		{"kind only", "proposal.opened", nil, true},
		{"subject", "proposal.opened", map[string]any{"requirement": "REQ-001", "proposal": 2}, true},
		{"actor", "proposal.opened", map[string]any{"actor": "gpt(ai)"}, true},
		{"yaml int matches json number", "proposal.conflicting", map[string]any{"with": 2}, true},
		{"nested data", "proposal.opened", map[string]any{"change": map[string]any{"value": 10}}, true},
		{"list data", "proposal.opened", map[string]any{"conflicts": []any{"VALUE_CONFLICT"}}, true},
		{"wrong value", "proposal.conflicting", map[string]any{"with": 3}, false},
		{"missing data key", "requirement.created", map[string]any{"source": "jira:X"}, false},
		{"wrong kind", "field.written", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Kind: tt.kind, Where: tt.where})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AssertTraceContains, ae.Type)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Kinds: []string{"requirement.created", "proposal.conflicting"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Kinds: []string{"proposal.opened", "proposal.opened"}}))

	err := assertTraceOrder(trace, Assertion{Kinds: []string{"proposal.conflicting", "proposal.opened"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no proposal.opened after the preceding events")

	err = assertTraceOrder(trace, Assertion{Kinds: []string{"proposal.opened", "proposal.opened", "proposal.opened"}})
	require.Error(t, err)

	err = assertTraceOrder(trace, Assertion{Kinds: []string{"field.written"}})
	require.Error(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "proposal.opened", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "proposal.opened", Count: 1, Where: map[string]any{"status": "OPEN"}}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "field.written", Count: 0}))

	err := assertTraceCount(trace, Assertion{Kind: "proposal.opened", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 occurrences of proposal.opened")
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of field.written",
		Actual:   "0 occurrences",
		Trace:    sampleTrace()[:2],
	}
	assert.Equal(t, "Assertion failed: trace_count\n"+
		"  Expected: 1 occurrences of field.written\n"+
		"  Actual: 0 occurrences\n"+
		"\nEvents:\n"+
		"  1 requirement.created REQ-001 domain=\"clinical\"\n", err.Error())
}

func newAssertionEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng := engine.New()
	alice := ir.Author{ID: "alice", Kind: ir.AuthorHuman}
	_, err := eng.Create("REQ-001", ir.DomainGeneral, alice)
	require.NoError(t, err)
	_, err = eng.DefineField("REQ-001", "limit", engine.FieldSpec{Value: ir.NewInt(5)}, alice)
	require.NoError(t, err)
	_, err = eng.OpenProposal(ir.Target{Requirement: "REQ-001", Field: "limit"}, ir.Change{Value: ir.NewInt(6)}, "", alice)
	require.NoError(t, err)
	return eng
}

func TestAssertFinalState(t *testing.T) {
	eng := newAssertionEngine(t)

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"requirement", Assertion{Requirement: "REQ-001", Expect: map[string]any{"domain": "general", "needs_review": false, "fields": 1}}, ""},
		{"field", Assertion{Requirement: "REQ-001", Field: "limit", Expect: map[string]any{"value": 5, "version": 1, "lock": "OPEN"}}, ""},
		{"proposal", Assertion{Proposal: 1, Expect: map[string]any{"status": "OPEN", "author": "alice(human)", "target": "REQ-001:limit"}}, ""},
		{"mismatch", Assertion{Requirement: "REQ-001", Field: "limit", Expect: map[string]any{"value": 6}}, "REQ-001:limit value = 6"},
		{"unknown attribute", Assertion{Proposal: 1, Expect: map[string]any{"colour": "red"}}, `has attribute "colour"`},
		{"missing requirement", Assertion{Requirement: "REQ-404", Expect: map[string]any{"domain": "general"}}, "NOT_FOUND"},
		{"missing field", Assertion{Requirement: "REQ-001", Field: "nope", Expect: map[string]any{"value": 1}}, "NOT_FOUND"},
		{"missing proposal", Assertion{Proposal: 9, Expect: map[string]any{"status": "OPEN"}}, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(eng, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Pass: true, Trace: sampleTrace()}
	eng := newAssertionEngine(t)

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Kind: "requirement.created"},
		{Type: AssertTraceCount, Kind: "proposal.opened", Count: 5},
		{Type: AssertFinalState, Proposal: 1, Expect: map[string]any{"status": "OPEN"}},
		{Type: "eventually"},
	}, &AssertionContext{Engine: eng})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "trace_count")
	assert.Contains(t, errs[1], `unknown assertion type "eventually"`)
}

func TestEvaluateAssertions_FinalStateWithoutEngine(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalState, Requirement: "REQ-001", Expect: map[string]any{"domain": "general"}},
	}, nil)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "final_state requires an engine")
}
