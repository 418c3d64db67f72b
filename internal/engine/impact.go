package engine

import (
	"github.com/roach88/galed/internal/graph"
	"github.com/roach88/galed/internal/ir"
)

// propagate flags every requirement that transitively depends on cause
// (reverse depends_on/derived_from reachability) as needs_review.
//
// Already-flagged requirements are skipped but still traversed, so running
// it twice yields the same set. conflicts_with edges are never followed.
// Returns the IDs newly flagged, in traversal order.
func (t *tx) propagate(cause string) []string {
	var flagged []string
	for id := range t.g().Reachable(cause, graph.Reverse, ir.EdgeDependsOn, ir.EdgeDerivedFrom) {
		if t.flag(id, cause) {
			flagged = append(flagged, id)
		}
	}
	if len(flagged) > 0 {
		t.e.logger.Debug("impact propagated", "cause", cause, "flagged", len(flagged))
	}
	return flagged
}

// flag sets needs_review on one requirement. Returns false if it was already
// set or the requirement does not exist.
func (t *tx) flag(id, cause string) bool {
	r, ok := t.requirement(id)
	if !ok || r.NeedsReview {
		return false
	}
	t.mutable(id).NeedsReview = true
	t.emit(ir.EventReviewFlagged, ir.Target{Requirement: id}, 0, map[string]any{"cause": cause})
	return true
}

// Propagate runs impact propagation from a requirement outside of an
// acceptance, for re-running after a bulk import. Returns the IDs newly flagged.
func (e *Engine) Propagate(id string, actor ir.Author) ([]string, error) {
	var flagged []string
	err := e.update("propagate", actor, func(t *tx) error {
		if _, ok := t.requirement(id); !ok {
			return requirementNotFound(id)
		}
		flagged = t.propagate(id)
		return nil
	})
	return flagged, err
}
