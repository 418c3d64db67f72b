package engine

import (
	"fmt"

	"github.com/roach88/galed/internal/ir"
)

// detect evaluates a candidate proposal and returns every conflict it has.
//
//	VALUE_CONFLICT: another unresolved proposal on the same target asks for
//	  a different outcome.
//	POLICY_CONFLICT: the target is locked and the domain rule never lets
//	  the author's kind resolve it.
//	CROSS_REQUIREMENT_CONFLICT: a conflicts_with peer's field at the same
//	  path has an unresolved proposal, or an accepted head, with a
//	  different value.
//
// Conflicts are never resolved here: no recency, authorship or ordering
// precedence applies. Results are in detection order (value, policy, cross)
// with counterparts in ascending ID order.
func (t *tx) detect(p *ir.Proposal) []ir.Conflict {
	var conflicts []ir.Conflict

	for _, q := range t.proposalsOn(p.Target) {
		if q.ID == p.ID || !q.Status.Unresolved() || compatible(p.Change, q.Change) {
			continue
		}
		conflicts = append(conflicts, ir.Conflict{
			Kind:    ir.ConflictValue,
			With:    q.ID,
			Target:  q.Target,
			Message: fmt.Sprintf("%s proposes %s", q.ID, q.Change),
		})
	}

	if r, f, err := t.field(p.Target); err == nil && f.Lock.Locked() {
		_, rule := t.e.rules.Lookup(r.Domain, p.Target.Field)
		if !canResolve(rule, f, p.Author.Kind) {
			conflicts = append(conflicts, ir.Conflict{
				Kind:    ir.ConflictPolicy,
				Target:  p.Target,
				Message: fmt.Sprintf("%s authors can never resolve this %s field in %s", p.Author.Kind, f.Lock, r.Domain),
			})
		}
	}

	if !p.Change.IsLock() {
		for _, peer := range t.g().Peers(p.Target.Requirement) {
			conflicts = append(conflicts, t.crossConflicts(p, ir.Target{Requirement: peer, Field: p.Target.Field})...)
		}
	}
	return conflicts
}

// crossConflicts compares a value proposal with one peer target.
func (t *tx) crossConflicts(p *ir.Proposal, peer ir.Target) []ir.Conflict {
	if _, _, err := t.field(peer); err != nil {
		return nil
	}

	var conflicts []ir.Conflict
	for _, q := range t.proposalsOn(peer) {
		if !q.Status.Unresolved() || q.Change.IsLock() || ir.Equal(p.Change.Value, q.Change.Value) {
			continue
		}
		conflicts = append(conflicts, ir.Conflict{
			Kind:    ir.ConflictCrossRequirement,
			With:    q.ID,
			Target:  peer,
			Message: fmt.Sprintf("%s proposes %s on %s", q.ID, q.Change, peer),
		})
	}

	if id, ok := t.head(peer); ok {
		h, _ := t.proposal(id)
		if !h.Change.IsLock() && !ir.Equal(p.Change.Value, h.Change.Value) {
			conflicts = append(conflicts, ir.Conflict{
				Kind:    ir.ConflictCrossRequirement,
				With:    h.ID,
				Target:  peer,
				Message: fmt.Sprintf("accepted %s set %s on %s", h.ID, h.Change, peer),
			})
		}
	}
	return conflicts
}

// compatible reports whether two changes on the same target can coexist.
// Value and lock changes are independent dimensions.
func compatible(a, b ir.Change) bool {
	if a.IsLock() != b.IsLock() {
		return true
	}
	return a.Equal(b)
}
