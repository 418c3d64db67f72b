package engine

import (
	"io"
	"log/slog"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/testutil"
)

var (
	alice = ir.Author{ID: "alice", Kind: ir.AuthorHuman}
	bob   = ir.Author{ID: "bob", Kind: ir.AuthorHuman}
	agent = ir.Author{ID: "agent-7", Kind: ir.AuthorAI}
)

func authority(a ir.Author) ir.Authority {
	return ir.Authority{Author: a, Token: "test-token"}
}

// newTestEngine creates an engine with a deterministic clock and silent logs.
func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	clock := testutil.NewStepClock()
	base := []EngineOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNow(clock.Now),
	}
	return New(append(base, opts...)...)
}

// mustCreate adds a requirement with the given fields and drains the
// setup events so tests only see their own.
func mustCreate(t *testing.T, e *Engine, id string, domain ir.Domain, fields map[string]FieldSpec) {
	t.Helper()
	_, err := e.Create(id, domain, alice)
	require.NoError(t, err)
	for _, path := range slices.Sorted(maps.Keys(fields)) {
		_, err := e.DefineField(id, path, fields[path], alice)
		require.NoError(t, err, "define %s:%s", id, path)
	}
	e.DrainEvents()
}

// clinicalEngine holds REQ-001 (clinical) with ac.threshold = 5 LOCKED_HUMAN.
func clinicalEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e := newTestEngine(t, opts...)
	mustCreate(t, e, "REQ-001", ir.DomainClinical, map[string]FieldSpec{
		"title":        {Value: ir.String("Infusion alarm threshold")},
		"statement":    {Value: ir.String("The pump shall alarm above the threshold.")},
		"ac.threshold": {Value: ir.NewInt(5), Lock: ir.LockLockedHuman},
		"safety.classification": {
			Value:   ir.Enum("class_b"),
			Lock:    ir.LockLockedHuman,
			Options: []string{"class_a", "class_b", "class_c"},
		},
	})
	return e
}

var threshold = ir.Target{Requirement: "REQ-001", Field: "ac.threshold"}

func valueChange(v ir.Value) ir.Change { return ir.Change{Value: v} }

func mustOpen(t *testing.T, e *Engine, target ir.Target, v ir.Value, author ir.Author) *ir.Proposal {
	t.Helper()
	p, err := e.OpenProposal(target, valueChange(v), "", author)
	require.NoError(t, err)
	return p
}

func status(t *testing.T, e *Engine, id ir.ProposalID) ir.ProposalStatus {
	t.Helper()
	p, err := e.Proposal(id)
	require.NoError(t, err)
	return p.Status
}

func eventKinds(events []ir.Event) []ir.EventKind {
	kinds := make([]ir.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}
