package graph

import (
	"slices"

	"github.com/roach88/galed/internal/ir"
)

// Summary is a deterministic description of the graph used by renderers.
type Summary struct {
	Nodes  []string            `json:"nodes"`
	Edges  []Edge              `json:"edges"`
	Counts map[ir.EdgeKind]int `json:"counts"`

	// Roots depend on nothing; leaves have nothing depending on them.
	// Only depends_on/derived_from edges count.
	Roots  []string `json:"roots"`
	Leaves []string `json:"leaves"`

	Cycles [][]string `json:"cycles,omitempty"`
}

// Summary computes the summary of the graph.
func (g *Graph) Summary() Summary {
	s := Summary{
		Nodes:  g.Nodes(),
		Edges:  g.Edges(),
		Counts: make(map[ir.EdgeKind]int),
		Roots:  []string{},
		Leaves: []string{},
		Cycles: g.Cycles(),
	}
	if s.Edges == nil {
		s.Edges = []Edge{}
	}
	for _, e := range s.Edges {
		s.Counts[e.Kind]++
	}
	for _, id := range s.Nodes {
		if len(g.Outgoing(id, ir.EdgeDependsOn, ir.EdgeDerivedFrom)) == 0 {
			s.Roots = append(s.Roots, id)
		}
		if len(g.Incoming(id, ir.EdgeDependsOn, ir.EdgeDerivedFrom)) == 0 {
			s.Leaves = append(s.Leaves, id)
		}
	}
	return s
}

// Dependents returns the sorted IDs of requirements holding a depends_on or
// derived_from edge to id.
func (g *Graph) Dependents(id string) []string {
	var ids []string
	for _, e := range g.Incoming(id, ir.EdgeDependsOn, ir.EdgeDerivedFrom) {
		ids = append(ids, e.From)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
