package graph

import (
	"slices"

	"github.com/roach88/galed/internal/ir"
)

// Cycles returns every depends_on/derived_from cycle already present in the
// graph, one path per strongly connected component. Each path starts and
// ends at the smallest ID of its component; a self-loop is [id, id].
//
// The engine never creates cycles, but stores loaded from disk may carry
// them; Validate reports each one.
func (g *Graph) Cycles() [][]string {
	adj := make(map[string][]string, len(g.nodes))
	for _, id := range g.Nodes() {
		adj[id] = g.neighbors(id, Forward, []ir.EdgeKind{ir.EdgeDependsOn, ir.EdgeDerivedFrom})
	}

	var cycles [][]string
	for _, scc := range tarjanSCC(g.Nodes(), adj) {
		slices.Sort(scc)
		if len(scc) == 1 {
			if slices.Contains(adj[scc[0]], scc[0]) {
				cycles = append(cycles, []string{scc[0], scc[0]})
			}
			continue
		}
		cycles = append(cycles, reconstructCyclePath(scc, adj))
	}
	slices.SortFunc(cycles, slices.Compare)
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order so results are deterministic.
func tarjanSCC(nodes []string, adj map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root of an SCC: pop it off the stack.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath walks a closed path through an SCC starting at its
// first (smallest) member. Every SCC of size > 1 contains such a cycle; the
// walk is a BFS restricted to SCC members back to the start.
func reconstructCyclePath(scc []string, adj map[string][]string) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]

	parent := map[string]string{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !members[next] {
				continue
			}
			if next == start {
				path := []string{start}
				for n := cur; n != start; n = parent[n] {
					path = append(path, n)
				}
				path = append(path, start)
				slices.Reverse(path[1 : len(path)-1])
				return path
			}
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return []string{start, start}
}
