package engine

import (
	"cmp"
	"slices"
	"time"

	"github.com/roach88/galed/internal/graph"
	"github.com/roach88/galed/internal/ir"
)

// tx stages one mutation.
//
// Reads fall through to the engine; writes go to copy-on-write overlays.
// Nothing reaches the engine until commit, so an operation that fails
// half-way leaves no partial effects. Must only be used under the write lock.
type tx struct {
	e     *Engine
	actor ir.Author
	now   time.Time

	reqs      map[string]*ir.Requirement // nil value marks removal
	proposals map[ir.ProposalID]*ir.Proposal
	added     []ir.ProposalID
	heads     map[ir.Target]ir.ProposalID // 0 marks deletion
	graph     *graph.Graph                // nil until the first edge change
	lastID    ir.ProposalID

	events []ir.Event
}

func (e *Engine) begin(actor ir.Author) *tx {
	return &tx{
		e:         e,
		actor:     actor,
		now:       e.now(),
		reqs:      make(map[string]*ir.Requirement),
		proposals: make(map[ir.ProposalID]*ir.Proposal),
		heads:     make(map[ir.Target]ir.ProposalID),
		lastID:    e.lastID,
	}
}

// requirement returns the staged view of a requirement. The result must
// not be modified; use mutable.
func (t *tx) requirement(id string) (*ir.Requirement, bool) {
	if r, staged := t.reqs[id]; staged {
		return r, r != nil
	}
	r, ok := t.e.reqs[id]
	return r, ok
}

// mutable returns a writable staged copy of an existing requirement.
func (t *tx) mutable(id string) *ir.Requirement {
	if r := t.reqs[id]; r != nil {
		return r
	}
	cp := t.e.reqs[id].Clone()
	t.reqs[id] = cp
	return cp
}

// field resolves a target to its requirement and field.
func (t *tx) field(target ir.Target) (*ir.Requirement, *ir.Field, error) {
	r, ok := t.requirement(target.Requirement)
	if !ok {
		return nil, nil, requirementNotFound(target.Requirement)
	}
	f, ok := r.Fields[target.Field]
	if !ok {
		return nil, nil, fieldNotFound(target.Requirement, target.Field)
	}
	return r, f, nil
}

func (t *tx) proposal(id ir.ProposalID) (*ir.Proposal, bool) {
	if p, ok := t.proposals[id]; ok {
		return p, true
	}
	p, ok := t.e.proposals[id]
	return p, ok
}

// mutableProposal returns a writable staged copy of an existing proposal.
func (t *tx) mutableProposal(id ir.ProposalID) *ir.Proposal {
	if p, ok := t.proposals[id]; ok {
		return p
	}
	cp := t.e.proposals[id].Clone()
	t.proposals[id] = cp
	return cp
}

// insertProposal assigns the next ID and stages a new proposal.
func (t *tx) insertProposal(p *ir.Proposal) {
	t.lastID++
	p.ID = t.lastID
	t.proposals[p.ID] = p
	t.added = append(t.added, p.ID)
}

// proposalsOn returns the staged view of every proposal on a target, oldest first.
func (t *tx) proposalsOn(target ir.Target) []*ir.Proposal {
	var out []*ir.Proposal
	for _, id := range t.e.byTarget[target] {
		p, _ := t.proposal(id)
		out = append(out, p)
	}
	for _, id := range t.added {
		if p := t.proposals[id]; p.Target == target {
			out = append(out, p)
		}
	}
	return out
}

// proposalsFor returns every proposal targeting any field of a requirement.
func (t *tx) proposalsFor(requirement string) []*ir.Proposal {
	var out []*ir.Proposal
	for target, ids := range t.e.byTarget {
		if target.Requirement != requirement {
			continue
		}
		for _, id := range ids {
			p, _ := t.proposal(id)
			out = append(out, p)
		}
	}
	for _, id := range t.added {
		if p := t.proposals[id]; p.Target.Requirement == requirement {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *ir.Proposal) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (t *tx) head(target ir.Target) (ir.ProposalID, bool) {
	if id, ok := t.heads[target]; ok {
		return id, id != 0
	}
	id, ok := t.e.heads[target]
	return id, ok
}

func (t *tx) setHead(target ir.Target, id ir.ProposalID) {
	t.heads[target] = id
}

// g returns the staged graph for reading.
func (t *tx) g() *graph.Graph {
	if t.graph != nil {
		return t.graph
	}
	return t.e.graph
}

// mutableGraph returns a writable staged copy of the graph.
func (t *tx) mutableGraph() *graph.Graph {
	if t.graph == nil {
		t.graph = t.e.graph.Clone()
	}
	return t.graph
}

// emit records an event to publish on commit.
func (t *tx) emit(kind ir.EventKind, target ir.Target, proposal ir.ProposalID, data map[string]any) {
	t.events = append(t.events, ir.Event{
		Kind:        kind,
		Requirement: target.Requirement,
		Field:       target.Field,
		Proposal:    proposal,
		Actor:       t.actor,
		At:          t.now,
		Data:        data,
	})
}

// commit applies a staged transaction. Called only from update.
func (e *Engine) commit(t *tx) []ir.Event {
	for id, r := range t.reqs {
		if r == nil {
			delete(e.reqs, id)
			continue
		}
		e.reqs[id] = r
	}
	for id, p := range t.proposals {
		e.proposals[id] = p
	}
	for _, id := range t.added {
		p := e.proposals[id]
		e.byTarget[p.Target] = append(e.byTarget[p.Target], id)
	}
	for target, id := range t.heads {
		if id == 0 {
			delete(e.heads, target)
			continue
		}
		e.heads[target] = id
	}
	if t.graph != nil {
		e.graph = t.graph
	}
	e.lastID = t.lastID

	for i := range t.events {
		t.events[i].Seq = e.clock.Next()
	}
	e.outbox.push(t.events...)
	return t.events
}
