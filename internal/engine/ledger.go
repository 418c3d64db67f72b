package engine

import (
	"fmt"

	"github.com/roach88/galed/internal/ir"
)

// OpenProposal records a request to change one field.
//
// The conflict detector runs immediately. If it reports anything, the new
// proposal starts CONFLICTING and every unresolved counterpart is moved to
// CONFLICTING too; neither side wins automatically. Conflicts are returned on
// the proposal, not as an error: err is non-nil only for structural failures
// (unknown target, malformed change).
func (e *Engine) OpenProposal(target ir.Target, change ir.Change, rationale string, author ir.Author) (*ir.Proposal, error) {
	var out *ir.Proposal
	err := e.update("open_proposal", author, func(t *tx) error {
		p, err := t.open(target, change, rationale, author, 0)
		if err != nil {
			return err
		}
		out = p.Clone()
		return nil
	})
	if err == nil && len(out.Conflicts) > 0 {
		e.logger.Warn("proposal conflicts",
			"proposal", out.ID.String(),
			"target", out.Target.String(),
			"conflicts", len(out.Conflicts),
		)
	}
	return out, err
}

func (t *tx) open(target ir.Target, change ir.Change, rationale string, author ir.Author, from ir.ProposalID) (*ir.Proposal, error) {
	if author.ID == "" || !ir.ValidAuthorKinds[author.Kind] {
		return nil, errorf(CodeUnauthorized, "unknown author %s", author).at(target.Requirement, target.Field)
	}
	_, f, err := t.field(target)
	if err != nil {
		return nil, err
	}
	if err := validateChange(f, change); err != nil {
		return nil, err.at(target.Requirement, target.Field)
	}

	p := &ir.Proposal{
		Target:          target,
		Change:          change,
		Rationale:       rationale,
		Author:          author,
		Status:          ir.StatusOpen,
		CreatedAt:       t.now,
		ResubmittedFrom: from,
	}
	t.insertProposal(p)

	p.Conflicts = t.detect(p)
	if len(p.Conflicts) > 0 {
		p.Status = ir.StatusConflicting
	}

	data := map[string]any{
		"status":    string(p.Status),
		"change":    changeData(change),
		"rationale": rationale,
	}
	if from != 0 {
		data["resubmitted_from"] = from
	}
	if len(p.Conflicts) > 0 {
		kinds := make([]string, len(p.Conflicts))
		for i, c := range p.Conflicts {
			kinds[i] = string(c.Kind)
		}
		data["conflicts"] = kinds
	}
	t.emit(ir.EventProposalOpened, target, p.ID, data)

	for _, c := range p.Conflicts {
		if c.With == 0 {
			continue
		}
		t.markConflicting(c.With, ir.Conflict{
			Kind:    c.Kind,
			With:    p.ID,
			Target:  p.Target,
			Message: fmt.Sprintf("conflicts with %s", p.ID),
		})
	}
	return p, nil
}

// markConflicting moves an unresolved counterpart to CONFLICTING and records
// the conflict on it. Resolved counterparts (an accepted head) are left alone.
func (t *tx) markConflicting(id ir.ProposalID, c ir.Conflict) {
	q, ok := t.proposal(id)
	if !ok || !q.Status.Unresolved() {
		return
	}
	q = t.mutableProposal(id)
	q.Conflicts = append(q.Conflicts, c)
	if q.Status == ir.StatusConflicting {
		return
	}
	q.Status = ir.StatusConflicting
	t.emit(ir.EventProposalConflicting, q.Target, q.ID, map[string]any{
		"with": c.With,
		"kind": string(c.Kind),
	})
}

// Accept resolves an OPEN proposal by applying its change.
//
// Fails with WrongStatus unless the proposal is OPEN, and with Unauthorized
// unless the resolver satisfies the target field's rule. On success the
// field takes the proposed value (or lock state) with a bumped version, every
// other OPEN proposal on the target becomes SUPERSEDED, the proposal becomes
// the target's accepted head, and requirements depending on the target are
// flagged needs_review.
func (e *Engine) Accept(id ir.ProposalID, resolver ir.Authority, note string) (*ir.Proposal, error) {
	var out *ir.Proposal
	err := e.update("accept", resolver.Author, func(t *tx) error {
		p, ok := t.proposal(id)
		if !ok {
			return proposalNotFound(id)
		}
		if p.Status != ir.StatusOpen {
			return errorf(CodeWrongStatus, "proposal is %s, not OPEN", p.Status).of(id)
		}
		r, f, err := t.field(p.Target)
		if err != nil {
			return err
		}
		if !ir.ValidAuthorKinds[resolver.Kind] || resolver.ID == "" {
			return errorf(CodeUnauthorized, "unknown resolver %s", resolver.Author).of(id)
		}

		_, rule := t.e.rules.Lookup(r.Domain, p.Target.Field)
		if !canResolve(rule, f, resolver.Kind) {
			return errorf(CodeUnauthorized, "%s resolvers may not accept changes to this %s field", resolver.Kind, f.Lock).
				at(p.Target.Requirement, p.Target.Field).of(id)
		}
		if p.Change.IsLock() {
			if p.Change.Lock != f.Lock {
				if lerr := checkLockTransition(rule, f.Lock, p.Change.Lock, resolver.Kind, true); lerr != nil {
					return lerr.at(p.Target.Requirement, p.Target.Field).of(id)
				}
			}
		} else if err := f.Accepts(p.Change.Value); err != nil {
			return errorf(CodeInvalidValue, "%v", err).at(p.Target.Requirement, p.Target.Field).of(id)
		}

		t.apply(p)
		resolverAuthor := resolver.Author
		t.resolve(id, ir.StatusAccepted, note, &resolverAuthor)
		t.setHead(p.Target, id)

		for _, q := range t.proposalsOn(p.Target) {
			if q.ID != id && q.Status == ir.StatusOpen {
				t.resolve(q.ID, ir.StatusSuperseded, fmt.Sprintf("superseded by %s", id), nil)
			}
		}

		t.propagate(p.Target.Requirement)

		accepted, _ := t.proposal(id)
		out = accepted.Clone()
		return nil
	})
	return out, err
}

// apply writes an accepted proposal's change to its field.
func (t *tx) apply(p *ir.Proposal) {
	if p.Change.IsLock() {
		// Provenance tracks the value, so a lock change leaves it alone.
		t.applyLock(p.Target, p.Change.Lock, p.ID)
		return
	}

	f := t.mutable(p.Target.Requirement).Fields[p.Target.Field]
	f.Value = p.Change.Value
	f.Version++
	f.Provenance = ir.Provenance{Author: p.Author, At: t.now, ProposalID: p.ID}
	t.emit(ir.EventFieldWritten, p.Target, p.ID, map[string]any{
		"value":   p.Change.Value,
		"version": f.Version,
	})
}

// Reject resolves an OPEN or CONFLICTING proposal without applying it.
//
// With reopen-on-reject enabled, rejecting a CONFLICTING proposal re-runs
// conflict detection on each counterpart; a counterpart with no remaining
// conflict returns to OPEN.
func (e *Engine) Reject(id ir.ProposalID, resolver ir.Authority, note string) (*ir.Proposal, error) {
	var out *ir.Proposal
	err := e.update("reject", resolver.Author, func(t *tx) error {
		p, ok := t.proposal(id)
		if !ok {
			return proposalNotFound(id)
		}
		if !p.Status.Unresolved() {
			return errorf(CodeWrongStatus, "proposal is %s, not OPEN or CONFLICTING", p.Status).of(id)
		}
		if !ir.ValidAuthorKinds[resolver.Kind] || resolver.ID == "" {
			return errorf(CodeUnauthorized, "unknown resolver %s", resolver.Author).of(id)
		}

		wasConflicting := p.Status == ir.StatusConflicting
		counterparts := conflictPartners(p)

		resolverAuthor := resolver.Author
		t.resolve(id, ir.StatusRejected, note, &resolverAuthor)

		if wasConflicting && t.e.reopenOnReject {
			for _, q := range counterparts {
				t.reopen(q)
			}
		}

		rejected, _ := t.proposal(id)
		out = rejected.Clone()
		return nil
	})
	return out, err
}

// Resubmit replaces an unresolved proposal with a fresh one by the same
// author: the old record is REJECTED with note "resubmitted as #N" and the
// new one, carrying ResubmittedFrom, goes through conflict detection. A zero
// change reuses the old change; an empty rationale reuses the old rationale.
func (e *Engine) Resubmit(id ir.ProposalID, change ir.Change, rationale string, author ir.Author) (*ir.Proposal, error) {
	var out *ir.Proposal
	err := e.update("resubmit", author, func(t *tx) error {
		old, ok := t.proposal(id)
		if !ok {
			return proposalNotFound(id)
		}
		if !old.Status.Unresolved() {
			return errorf(CodeWrongStatus, "proposal is %s, not OPEN or CONFLICTING", old.Status).of(id)
		}
		if old.Author.ID != author.ID {
			return errorf(CodeUnauthorized, "only %s may resubmit this proposal", old.Author.ID).of(id)
		}
		if change == (ir.Change{}) {
			change = old.Change
		}
		if rationale == "" {
			rationale = old.Rationale
		}

		counterparts := conflictPartners(old)
		next := t.lastID + 1
		t.resolve(id, ir.StatusRejected, fmt.Sprintf("resubmitted as %s", next), &author)
		if t.e.reopenOnReject {
			for _, q := range counterparts {
				t.reopen(q)
			}
		}

		p, err := t.open(old.Target, change, rationale, author, id)
		if err != nil {
			return err
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

// resolve moves a proposal to a terminal status.
func (t *tx) resolve(id ir.ProposalID, status ir.ProposalStatus, note string, resolver *ir.Author) {
	p := t.mutableProposal(id)
	p.Status = status
	p.ResolvedAt = t.now
	p.Resolver = resolver
	p.Note = note

	kind := map[ir.ProposalStatus]ir.EventKind{
		ir.StatusAccepted:   ir.EventProposalAccepted,
		ir.StatusRejected:   ir.EventProposalRejected,
		ir.StatusSuperseded: ir.EventProposalSuperseded,
	}[status]
	data := map[string]any{}
	if note != "" {
		data["note"] = note
	}
	t.emit(kind, p.Target, id, data)
}

// reopen re-runs conflict detection on a CONFLICTING proposal and returns it
// to OPEN if nothing conflicts any more.
func (t *tx) reopen(id ir.ProposalID) {
	q, ok := t.proposal(id)
	if !ok || q.Status != ir.StatusConflicting {
		return
	}
	if conflicts := t.detect(q); len(conflicts) > 0 {
		return
	}
	q = t.mutableProposal(id)
	q.Status = ir.StatusOpen
	q.Conflicts = nil
	t.emit(ir.EventProposalReopened, q.Target, id, nil)
}

// conflictPartners returns the distinct counterpart IDs recorded on p.
func conflictPartners(p *ir.Proposal) []ir.ProposalID {
	var ids []ir.ProposalID
	seen := make(map[ir.ProposalID]bool)
	for _, c := range p.Conflicts {
		if c.With != 0 && !seen[c.With] {
			seen[c.With] = true
			ids = append(ids, c.With)
		}
	}
	return ids
}

// validateChange checks that a change is well-formed for a field.
func validateChange(f *ir.Field, c ir.Change) *Error {
	switch {
	case c.IsLock() && c.Value != nil:
		return errorf(CodeInvalidValue, "a proposal changes either the value or the lock, not both")
	case c.IsLock():
		if !ir.ValidLockStates[c.Lock] {
			return errorf(CodeInvalidValue, "invalid lock state %q", c.Lock)
		}
	default:
		if err := f.Accepts(c.Value); err != nil {
			return errorf(CodeInvalidValue, "%v", err)
		}
	}
	return nil
}

// changeData renders a change for event payloads.
func changeData(c ir.Change) map[string]any {
	if c.IsLock() {
		return map[string]any{"lock": string(c.Lock)}
	}
	return map[string]any{"value": c.Value}
}
