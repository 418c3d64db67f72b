package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nEvents:\n")
		for _, entry := range e.Trace {
			if entry.Type == TraceEvent {
				fmt.Fprintf(&buf, "  %s\n", eventLine(entry))
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks that an event of the given kind matches the
// where clause (subset match).
func assertTraceContains(trace []TraceEntry, assertion Assertion) error {
	for _, entry := range trace {
		if entry.Type == TraceEvent && entry.Kind == assertion.Kind && matchEvent(entry, assertion.Where) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s where %s", assertion.Kind, formatWhere(assertion.Where)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that event kinds appear in the specified order.
// Kinds don't need to be consecutive, and a kind may repeat; each expected
// kind is matched at the first position after the previous match.
func assertTraceOrder(trace []TraceEntry, assertion Assertion) error {
	pos := 0
	for _, kind := range assertion.Kinds {
		found := false
		for pos < len(trace) {
			entry := trace[pos]
			pos++
			if entry.Type == TraceEvent && entry.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Kinds),
				Actual:   fmt.Sprintf("no %s after the preceding events", kind),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events of the kind match.
func assertTraceCount(trace []TraceEntry, assertion Assertion) error {
	count := 0
	for _, entry := range trace {
		if entry.Type == TraceEvent && entry.Kind == assertion.Kind && matchEvent(entry, assertion.Where) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks a requirement, field or proposal against the
// expected attributes (subset match).
func assertFinalState(eng *engine.Engine, assertion Assertion) error {
	actual, subject, err := stateOf(eng, assertion)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: subject,
			Actual:   err.Error(),
		}
	}

	for _, key := range slices.Sorted(maps.Keys(assertion.Expect)) {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s has attribute %q", subject, key),
				Actual:   fmt.Sprintf("available: %v", slices.Sorted(maps.Keys(actual))),
			}
		}
		if want := scalarText(assertion.Expect[key]); want != got {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s = %s", subject, key, want),
				Actual:   fmt.Sprintf("%s %s = %s", subject, key, got),
			}
		}
	}
	return nil
}

// stateOf collects the comparable attributes of the assertion's subject.
func stateOf(eng *engine.Engine, a Assertion) (map[string]string, string, error) {
	if a.Proposal != 0 {
		id := ir.ProposalID(a.Proposal)
		subject := "proposal " + id.String()
		p, err := eng.Proposal(id)
		if err != nil {
			return nil, subject, err
		}
		state := map[string]string{
			"status": string(p.Status),
			"author": p.Author.String(),
			"note":   p.Note,
			"target": p.Target.String(),
		}
		if p.Resolver != nil {
			state["resolver"] = p.Resolver.String()
		}
		return state, subject, nil
	}

	if a.Field != "" {
		subject := a.Requirement + ":" + a.Field
		f, err := eng.Read(a.Requirement, a.Field)
		if err != nil {
			return nil, subject, err
		}
		state := map[string]string{
			"value":   f.Value.Text(),
			"kind":    string(f.Kind()),
			"lock":    string(f.Lock),
			"version": strconv.FormatInt(f.Version, 10),
			"author":  f.Provenance.Author.String(),
		}
		if f.Provenance.ProposalID != 0 {
			state["proposal"] = strconv.FormatInt(int64(f.Provenance.ProposalID), 10)
		}
		return state, subject, nil
	}

	subject := "requirement " + a.Requirement
	r, err := eng.Requirement(a.Requirement)
	if err != nil {
		return nil, subject, err
	}
	return map[string]string{
		"domain":       string(r.Domain),
		"needs_review": strconv.FormatBool(r.NeedsReview),
		"fields":       strconv.Itoa(len(r.Fields)),
		"edges":        strconv.Itoa(len(r.Traces)),
		"source":       r.Source,
	}, subject, nil
}

// matchEvent reports whether the entry has every key in where. Keys name
// the entry's requirement, field, proposal or actor, or a data key.
func matchEvent(entry TraceEntry, where map[string]any) bool {
	for key, want := range where {
		var got any
		switch key {
		case "requirement":
			got = entry.Requirement
		case "field":
			got = entry.Field
		case "proposal":
			got = entry.Proposal
		case "actor":
			got = entry.Actor
		default:
			v, ok := entry.Data[key]
			if !ok {
				return false
			}
			got = v
		}
		if !sameJSON(got, want) {
			return false
		}
	}
	return true
}

// sameJSON compares values by their JSON encoding, so YAML integers match
// journal json.Numbers and nested maps compare structurally.
func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range slices.Sorted(maps.Keys(where)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides engine access for final_state assertions.
type AssertionContext struct {
	Engine *engine.Engine
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires an engine", i)
			} else {
				err = assertFinalState(actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
