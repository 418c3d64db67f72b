// Package harness runs conformance scenarios against the requirement engine.
//
// A scenario drives a real engine through setup and flow steps, journals
// every committed event into an in-memory store, and checks the resulting
// trace and final state.
//
// # Scenario Format
//
//	name: conflicting_pair
//	description: "Two proposals on one field conflict"
//	domain: clinical
//	reopen_on_reject: true
//	setup:
//	  - action: create
//	    args: { id: REQ-001 }
//	  - action: define
//	    args: { id: REQ-001, path: ac.threshold, value: 5, lock: LOCKED_HUMAN }
//	flow:
//	  - action: propose
//	    as: alice(human)
//	    args: { id: REQ-001, path: ac.threshold, value: 10, rationale: "raise limit" }
//	    expect: { status: OPEN }
//	  - action: accept
//	    args: { proposal: 1 }
//	assertions:
//	  - type: trace_contains
//	    kind: field.written
//	    where: { requirement: REQ-001, value: 10 }
//	  - type: final_state
//	    requirement: REQ-001
//	    field: ac.threshold
//	    expect: { value: 10, version: 2 }
//
// Steps act as "as" (id or id(kind)); the default actor is harness(human).
// A flow step without expect must succeed; expect.error names the engine
// error code a step must fail with.
//
// # Assertion Types
//
//   - trace_contains: an event of kind matches where (subset match)
//   - trace_order: event kinds appear in order
//   - trace_count: exactly count events of kind match where
//   - final_state: a requirement, field or proposal has the expected attributes
//
// # Deterministic Testing
//
// The engine runs on testutil.StepClock and batches get sequential IDs, so
// traces are identical across runs. RunWithGolden renders the trace as text
// (see RenderTrace) and compares it with testdata/golden/{name}.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/conflicting_pair.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    fmt.Println(result.Errors)
//	}
package harness
