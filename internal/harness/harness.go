package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/rules"
	"github.com/roach88/galed/internal/store"
	"github.com/roach88/galed/internal/testutil"
)

// Harness runs scenarios against a real engine. Every step's events are
// appended to an in-memory journal and read back into the trace, so a
// scenario exercises the same commit path as the CLI.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	ids    *testutil.SequenceIDs
	domain ir.Domain
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal with a step clock and
// sequential batch IDs, so traces are reproducible.
//
// Execution flow:
// 1. Open an in-memory journal and build the engine
// 2. Execute setup steps (any failure aborts the run)
// 3. Execute flow steps, checking expect clauses
// 4. Verify the journal's hash chain
// 5. Evaluate assertions
//
// An error is returned only when the scenario cannot be run at all;
// failed expectations and assertions are recorded in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context for journal access.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rs := rules.Default()
	if scenario.Rules != "" {
		if rs, err = rules.LoadFile(scenario.Rules); err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}

	clock := testutil.NewStepClock()
	eng := engine.New(
		engine.WithRules(rs),
		engine.WithNow(clock.Now),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithReopenOnReject(scenario.ReopenOnReject),
		engine.WithImpactOnDirectWrite(scenario.ImpactOnDirectWrite),
	)

	h := &Harness{
		store:  st,
		engine: eng,
		ids:    testutil.NewSequenceIDs("batch"),
		domain: scenario.Domain,
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	verify, err := st.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify journal: %w", err)
	}
	if !verify.OK() {
		result.AddError(fmt.Sprintf("journal hash chain broken at seq %d", verify.Break.Seq))
	}

	actx := &AssertionContext{Engine: eng}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs setup steps. Setup must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []Step, result *Result) error {
	for i, step := range setup {
		out, err := h.runStep(ctx, step, result)
		if err != nil {
			return fmt.Errorf("setup[%d] %s: %w", i, step.Action, err)
		}
		if out.err != nil {
			return fmt.Errorf("setup[%d] %s: %w", i, step.Action, out.err)
		}
	}
	return nil
}

// executeFlow runs flow steps and checks each expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		out, err := h.runStep(ctx, step, result)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Action, err)
		}
		for _, msg := range checkExpect(step.Expect, out) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Action, msg))
		}
	}
	return nil
}

// runStep executes one step, journals its events and appends both to the
// trace. The returned error reports a malformed step; engine failures are
// carried in the outcome.
func (h *Harness) runStep(ctx context.Context, step Step, result *Result) (stepOutcome, error) {
	actor, err := parseAuthor(step.As)
	if err != nil {
		return stepOutcome{}, err
	}

	out, err := h.execute(step, actor)
	if err != nil {
		return stepOutcome{}, err
	}
	result.AddStepTrace(step.Action, actor.String(), step.Args, out.code())

	events := h.engine.DrainEvents()
	if len(events) == 0 {
		return out, nil
	}
	batch := store.NewBatch(h.ids, step.Action, actor, events[0].At)
	if err := h.store.Append(ctx, batch, events); err != nil {
		return stepOutcome{}, fmt.Errorf("journal append: %w", err)
	}
	entries, err := h.store.Events(ctx, store.Filter{Batch: batch.ID})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("journal read: %w", err)
	}
	for _, e := range entries {
		data, err := e.Data()
		if err != nil {
			return stepOutcome{}, fmt.Errorf("journal seq %d: %w", e.Seq, err)
		}
		result.Trace = append(result.Trace, TraceEntry{
			Type:        TraceEvent,
			Actor:       e.Actor.String(),
			Seq:         e.Seq,
			Kind:        string(e.Kind),
			Requirement: e.Requirement,
			Field:       e.Field,
			Proposal:    int64(e.Proposal),
			Data:        data,
		})
	}
	return out, nil
}

// stepOutcome is what a step returned.
type stepOutcome struct {
	proposal *ir.Proposal // propose, accept, reject, resubmit
	flagged  []string     // propagate
	err      error        // engine error, if any
}

// code returns "ok" or the engine error code.
func (o stepOutcome) code() string {
	if o.err == nil {
		return "ok"
	}
	if c := engine.CodeOf(o.err); c != "" {
		return string(c)
	}
	return "error"
}

func checkExpect(expect *ExpectClause, out stepOutcome) []string {
	if expect == nil {
		if out.err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", out.err)}
		}
		return nil
	}

	if expect.Error != "" {
		if out.err == nil {
			return []string{fmt.Sprintf("expected error %s, got success", expect.Error)}
		}
		if got := out.code(); got != expect.Error {
			return []string{fmt.Sprintf("expected error %s, got %s (%v)", expect.Error, got, out.err)}
		}
		return nil
	}
	if out.err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", out.err)}
	}

	var errs []string
	if expect.Status != "" || expect.Conflicts != nil {
		if out.proposal == nil {
			return []string{"expected a proposal result, step returned none"}
		}
	}
	if expect.Status != "" && out.proposal.Status != expect.Status {
		errs = append(errs, fmt.Sprintf("expected status %s, got %s", expect.Status, out.proposal.Status))
	}
	if expect.Conflicts != nil {
		var got []ir.ConflictKind
		for _, c := range out.proposal.Conflicts {
			got = append(got, c.Kind)
		}
		if !slices.Equal(got, expect.Conflicts) {
			errs = append(errs, fmt.Sprintf("expected conflicts %v, got %v", expect.Conflicts, got))
		}
	}
	if expect.Flagged != nil && !slices.Equal(out.flagged, expect.Flagged) {
		errs = append(errs, fmt.Sprintf("expected flagged %v, got %v", expect.Flagged, out.flagged))
	}
	return errs
}

// errStep marks a malformed step.
var errStep = errors.New("invalid step")
