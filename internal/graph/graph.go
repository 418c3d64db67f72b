// Package graph provides the directed trace graph over requirement IDs.
//
// Nodes are requirement IDs; edges carry an ir.EdgeKind. depends_on and
// derived_from edges must stay acyclic; conflicts_with edges are symmetric
// and excluded from traversal unless asked for explicitly.
//
// The same reachability primitive serves cycle detection (forward, before an
// edge is inserted) and impact propagation (reverse, after a change).
//
// Graph is not safe for concurrent mutation; the engine serializes writers.
package graph

import (
	"cmp"
	"iter"
	"slices"

	"github.com/roach88/galed/internal/ir"
)

// Direction selects which way edges are followed.
type Direction int

const (
	// Forward follows edges from source to target (what X depends on).
	Forward Direction = iota
	// Reverse follows edges from target to source (what depends on X).
	Reverse
)

// Edge is a typed directed edge.
type Edge struct {
	From string      `json:"from"`
	To   string      `json:"to"`
	Kind ir.EdgeKind `json:"kind"`
}

// Graph is a directed multigraph with typed edges.
type Graph struct {
	nodes map[string]struct{}
	out   map[string][]Edge
	in    map[string][]Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

// Build constructs a graph from requirements and their trace edges.
// Edges to unknown targets are kept; their targets become nodes so that
// validation can report them.
func Build(reqs []*ir.Requirement) *Graph {
	g := New()
	for _, r := range reqs {
		g.AddNode(r.ID)
	}
	for _, r := range reqs {
		for _, t := range r.Traces {
			g.AddEdge(Edge{From: r.ID, To: t.Target, Kind: t.Kind})
		}
	}
	return g
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

// HasNode reports whether the node exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// RemoveNode removes a node and every incident edge.
func (g *Graph) RemoveNode(id string) {
	for _, e := range slices.Clone(g.out[id]) {
		g.RemoveEdge(e)
	}
	for _, e := range slices.Clone(g.in[id]) {
		g.RemoveEdge(e)
	}
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
}

// AddEdge inserts an edge, creating missing nodes. Returns false if the
// edge already existed. AddEdge does not check acyclicity; call DetectCycle first.
func (g *Graph) AddEdge(e Edge) bool {
	if g.HasEdge(e) {
		return false
	}
	g.AddNode(e.From)
	g.AddNode(e.To)
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
	return true
}

// RemoveEdge deletes an edge. Returns false if it did not exist.
func (g *Graph) RemoveEdge(e Edge) bool {
	i := slices.Index(g.out[e.From], e)
	if i < 0 {
		return false
	}
	g.out[e.From] = slices.Delete(g.out[e.From], i, i+1)
	if j := slices.Index(g.in[e.To], e); j >= 0 {
		g.in[e.To] = slices.Delete(g.in[e.To], j, j+1)
	}
	return true
}

// HasEdge reports whether the exact edge exists.
func (g *Graph) HasEdge(e Edge) bool {
	return slices.Contains(g.out[e.From], e)
}

// Incoming returns the edges pointing at id whose kind is in kinds
// (all kinds when none given), sorted for determinism.
func (g *Graph) Incoming(id string, kinds ...ir.EdgeKind) []Edge {
	return filterEdges(g.in[id], kinds)
}

// Outgoing returns the edges leaving id whose kind is in kinds
// (all kinds when none given), sorted for determinism.
func (g *Graph) Outgoing(id string, kinds ...ir.EdgeKind) []Edge {
	return filterEdges(g.out[id], kinds)
}

// Peers returns the requirements linked to id by conflicts_with in either
// direction. conflicts_with is symmetric regardless of which side holds it.
func (g *Graph) Peers(id string) []string {
	var peers []string
	for _, e := range g.out[id] {
		if e.Kind == ir.EdgeConflictsWith && e.To != id {
			peers = append(peers, e.To)
		}
	}
	for _, e := range g.in[id] {
		if e.Kind == ir.EdgeConflictsWith && e.From != id {
			peers = append(peers, e.From)
		}
	}
	slices.Sort(peers)
	return slices.Compact(peers)
}

// Nodes returns all node IDs in sorted order.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Edges returns all edges sorted by (from, kind, to).
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, es := range g.out {
		edges = append(edges, es...)
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// Clone returns an independent copy.
func (g *Graph) Clone() *Graph {
	cp := New()
	for id := range g.nodes {
		cp.AddNode(id)
	}
	for _, es := range g.out {
		for _, e := range es {
			cp.AddEdge(e)
		}
	}
	return cp
}

// Reachable returns a lazy sequence of node IDs reachable from start via
// edges of the given kinds, in breadth-first order. start itself is not
// yielded. Each node is visited at most once, so the sequence terminates
// even if the graph contains a cycle.
//
// With no kinds, depends_on and derived_from are followed. conflicts_with,
// when requested, is followed in both directions.
func (g *Graph) Reachable(start string, dir Direction, kinds ...ir.EdgeKind) iter.Seq[string] {
	if len(kinds) == 0 {
		kinds = []ir.EdgeKind{ir.EdgeDependsOn, ir.EdgeDerivedFrom}
	}
	return func(yield func(string) bool) {
		visited := map[string]bool{start: true}
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range g.neighbors(cur, dir, kinds) {
				if visited[next] {
					continue
				}
				visited[next] = true
				if !yield(next) {
					return
				}
				queue = append(queue, next)
			}
		}
	}
}

// neighbors returns sorted adjacent node IDs for one traversal step.
func (g *Graph) neighbors(id string, dir Direction, kinds []ir.EdgeKind) []string {
	var next []string
	for _, e := range g.out[id] {
		if !slices.Contains(kinds, e.Kind) {
			continue
		}
		if dir == Forward || e.Kind == ir.EdgeConflictsWith {
			next = append(next, e.To)
		}
	}
	for _, e := range g.in[id] {
		if !slices.Contains(kinds, e.Kind) {
			continue
		}
		if dir == Reverse || e.Kind == ir.EdgeConflictsWith {
			next = append(next, e.From)
		}
	}
	slices.Sort(next)
	return slices.Compact(next)
}

// DetectCycle reports whether inserting candidate would close a
// depends_on/derived_from cycle. If so, it returns the cycle path starting
// and ending at candidate.From; otherwise nil. conflicts_with edges never
// form cycles.
func (g *Graph) DetectCycle(candidate Edge) []string {
	if !candidate.Kind.Acyclic() {
		return nil
	}
	if candidate.From == candidate.To {
		return []string{candidate.From, candidate.From}
	}

	// A cycle closes iff From is already reachable from To.
	parent := map[string]string{candidate.To: ""}
	queue := []string{candidate.To}
	acyclic := []ir.EdgeKind{ir.EdgeDependsOn, ir.EdgeDerivedFrom}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.neighbors(cur, Forward, acyclic) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == candidate.From {
				return cyclePath(parent, candidate)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// cyclePath rebuilds From → To → ... → From from BFS parents.
func cyclePath(parent map[string]string, candidate Edge) []string {
	var back []string
	for n := candidate.From; n != ""; n = parent[n] {
		back = append(back, n)
	}
	slices.Reverse(back) // To ... From
	return append([]string{candidate.From}, back...)
}

func filterEdges(edges []Edge, kinds []ir.EdgeKind) []Edge {
	var out []Edge
	for _, e := range edges {
		if len(kinds) == 0 || slices.Contains(kinds, e.Kind) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, compareEdges)
	return out
}

func compareEdges(a, b Edge) int {
	return cmp.Or(
		cmp.Compare(a.From, b.From),
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.To, b.To),
	)
}
