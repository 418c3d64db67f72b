package engine

import (
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/galed/internal/graph"
	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/rules"
)

// Engine is the requirement store, proposal ledger and trace graph of one
// project.
//
// Thread-safety model:
//   - Reads (Requirement, Field, Proposal, Status, Validate, ...) take the
//     read lock and may run concurrently.
//   - Mutations take the write lock, stage into a transaction and either
//     commit every effect or none.
//
// INVARIANTS:
//   - Requirement IDs are unique; no requirement holds an edge to itself.
//   - depends_on/derived_from edges never close a cycle through a mutation.
//   - At most one ACCEPTED proposal per target is the head; older ACCEPTED
//     records are history.
//   - Proposals are never deleted.
type Engine struct {
	mu sync.RWMutex

	reqs      map[string]*ir.Requirement
	proposals map[ir.ProposalID]*ir.Proposal
	byTarget  map[ir.Target][]ir.ProposalID
	heads     map[ir.Target]ir.ProposalID
	graph     *graph.Graph
	lastID    ir.ProposalID

	rules  *rules.RuleSet
	clock  *Clock
	now    func() time.Time
	logger *slog.Logger
	outbox *outbox

	reopenOnReject      bool
	impactOnDirectWrite bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRules sets the domain rule table. Default: rules.Default().
func WithRules(rs *rules.RuleSet) EngineOption {
	return func(e *Engine) {
		if rs != nil {
			e.rules = rs
		}
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNow sets the wall-clock source used for provenance and resolution
// timestamps. Default: time.Now in UTC.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithClock sets the event sequence clock, e.g. NewClockAt(journal head).
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithReopenOnReject makes rejecting a CONFLICTING proposal re-run conflict
// detection on its counterparts, returning each to OPEN when nothing else
// conflicts. Default: false (counterparts stay CONFLICTING until resubmitted).
func WithReopenOnReject(enabled bool) EngineOption {
	return func(e *Engine) {
		e.reopenOnReject = enabled
	}
}

// WithImpactOnDirectWrite makes direct writes to OPEN fields trigger impact
// propagation as acceptance does. Default: false.
func WithImpactOnDirectWrite(enabled bool) EngineOption {
	return func(e *Engine) {
		e.impactOnDirectWrite = enabled
	}
}

// New creates an empty engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		reqs:      make(map[string]*ir.Requirement),
		proposals: make(map[ir.ProposalID]*ir.Proposal),
		byTarget:  make(map[ir.Target][]ir.ProposalID),
		heads:     make(map[ir.Target]ir.ProposalID),
		graph:     graph.New(),
		rules:     rules.Default(),
		clock:     NewClock(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
		outbox:    newOutbox(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load constructs an engine from deserialized requirement and proposal
// records. The records are copied.
//
// Load fails on duplicate requirement or proposal IDs. Everything else,
// including trace cycles and dangling edges, loads and is reported by
// Validate so the user sees every problem at once.
func Load(reqs []*ir.Requirement, proposals []*ir.Proposal, opts ...EngineOption) (*Engine, error) {
	e := New(opts...)

	for _, r := range reqs {
		if _, dup := e.reqs[r.ID]; dup {
			return nil, errorf(CodeDuplicateID, "duplicate requirement ID").at(r.ID, "")
		}
		cp := r.Clone()
		if cp.Fields == nil {
			cp.Fields = make(map[string]*ir.Field)
		}
		e.reqs[cp.ID] = cp
	}
	e.graph = graph.Build(slices.Collect(maps.Values(e.reqs)))

	for _, p := range proposals {
		if _, dup := e.proposals[p.ID]; dup {
			return nil, errorf(CodeDuplicateID, "duplicate proposal ID").of(p.ID)
		}
		cp := p.Clone()
		e.proposals[cp.ID] = cp
		e.lastID = max(e.lastID, cp.ID)
	}
	for _, id := range slices.Sorted(maps.Keys(e.proposals)) {
		p := e.proposals[id]
		e.byTarget[p.Target] = append(e.byTarget[p.Target], id)
		if p.Status == ir.StatusAccepted {
			e.heads[p.Target] = id // highest accepted ID wins
		}
	}

	e.logger.Debug("store loaded",
		"requirements", len(e.reqs),
		"proposals", len(e.proposals),
		"edges", len(e.graph.Edges()),
	)
	return e, nil
}

// Rules returns the rule table in effect.
func (e *Engine) Rules() *rules.RuleSet {
	return e.rules
}

// DrainEvents returns, and forgets, every event committed since the last
// call, in commit order.
func (e *Engine) DrainEvents() []ir.Event {
	return e.outbox.drain()
}

// LastSeq returns the sequence number of the most recent committed event.
func (e *Engine) LastSeq() int64 {
	return e.clock.Current()
}

// Requirement returns a copy of a requirement.
func (e *Engine) Requirement(id string) (*ir.Requirement, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.reqs[id]
	if !ok {
		return nil, requirementNotFound(id)
	}
	return r.Clone(), nil
}

// Requirements returns copies of all requirements sorted by ID.
func (e *Engine) Requirements() []*ir.Requirement {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*ir.Requirement, 0, len(e.reqs))
	for _, id := range slices.Sorted(maps.Keys(e.reqs)) {
		out = append(out, e.reqs[id].Clone())
	}
	return out
}

// Proposal returns a copy of a proposal.
func (e *Engine) Proposal(id ir.ProposalID) (*ir.Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[id]
	if !ok {
		return nil, proposalNotFound(id)
	}
	return p.Clone(), nil
}

// Proposals returns copies of all proposals on a target, oldest first.
func (e *Engine) Proposals(target ir.Target) []*ir.Proposal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*ir.Proposal
	for _, id := range e.byTarget[target] {
		out = append(out, e.proposals[id].Clone())
	}
	return out
}

// Head returns the accepted proposal currently in force for a target.
func (e *Engine) Head(target ir.Target) (*ir.Proposal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	id, ok := e.heads[target]
	if !ok {
		return nil, false
	}
	return e.proposals[id].Clone(), true
}

// Graph returns a copy of the trace graph.
func (e *Engine) Graph() *graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.Clone()
}

// Dependents returns the requirements that transitively depend on id (the
// set impact propagation would visit). Each range over the sequence takes a
// snapshot under the read lock and yields after releasing it, so the loop
// body may call back into the engine, mutations included.
func (e *Engine) Dependents(id string) iter.Seq[string] {
	return func(yield func(string) bool) {
		e.mu.RLock()
		deps := slices.Collect(e.graph.Reachable(id, graph.Reverse))
		e.mu.RUnlock()

		for _, dep := range deps {
			if !yield(dep) {
				return
			}
		}
	}
}

// Snapshot returns copies of every requirement and proposal, sorted by ID,
// for persistence.
func (e *Engine) Snapshot() ([]*ir.Requirement, []*ir.Proposal) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	reqs := make([]*ir.Requirement, 0, len(e.reqs))
	for _, id := range slices.Sorted(maps.Keys(e.reqs)) {
		reqs = append(reqs, e.reqs[id].Clone())
	}
	props := make([]*ir.Proposal, 0, len(e.proposals))
	for _, id := range slices.Sorted(maps.Keys(e.proposals)) {
		props = append(props, e.proposals[id].Clone())
	}
	return reqs, props
}

// update runs fn against a staged transaction under the write lock and
// commits its effects only if fn succeeds.
func (e *Engine) update(op string, actor ir.Author, fn func(*tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(actor)
	if err := fn(t); err != nil {
		e.logger.Debug("mutation rejected", "op", op, "actor", actor.ID, "error", err)
		return err
	}
	events := e.commit(t)
	e.logger.Info("mutation committed", "op", op, "actor", actor.ID, "events", len(events))
	return nil
}
