package engine

import (
	"maps"
	"slices"

	"github.com/roach88/galed/internal/ir"
)

// Status is the store-wide work queue: what awaits a decision and what
// awaits re-review.
type Status struct {
	Open        []*ir.Proposal `json:"open"`
	Conflicting []*ir.Proposal `json:"conflicting"`
	NeedsReview []string       `json:"needs_review"`
}

// Status reports open and conflicting proposals (oldest first) and the
// requirements flagged needs_review (sorted by ID).
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		Open:        []*ir.Proposal{},
		Conflicting: []*ir.Proposal{},
		NeedsReview: []string{},
	}
	for _, id := range slices.Sorted(maps.Keys(e.proposals)) {
		p := e.proposals[id]
		switch p.Status {
		case ir.StatusOpen:
			s.Open = append(s.Open, p.Clone())
		case ir.StatusConflicting:
			s.Conflicting = append(s.Conflicting, p.Clone())
		}
	}
	for _, id := range slices.Sorted(maps.Keys(e.reqs)) {
		if e.reqs[id].NeedsReview {
			s.NeedsReview = append(s.NeedsReview, id)
		}
	}
	return s
}
