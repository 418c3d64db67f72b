package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/graph"
	"github.com/roach88/galed/internal/ir"
)

// GraphNode is one requirement in a graph view. Missing nodes are edge
// targets with no requirement behind them.
type GraphNode struct {
	ID          string    `json:"id"`
	Domain      ir.Domain `json:"domain,omitempty"`
	NeedsReview bool      `json:"needs_review,omitempty"`
	Missing     bool      `json:"missing,omitempty"`
}

// GraphView is the trace graph with its summary.
type GraphView struct {
	Nodes       []GraphNode         `json:"nodes"`
	Edges       []graph.Edge        `json:"edges"`
	Counts      map[ir.EdgeKind]int `json:"counts"`
	Roots       []string            `json:"roots"`
	Leaves      []string            `json:"leaves"`
	NeedsReview []string            `json:"needs_review"`
	Cycles      [][]string          `json:"cycles,omitempty"`
}

// edgeKinds lists edge kinds in rendering order.
var edgeKinds = []ir.EdgeKind{ir.EdgeDependsOn, ir.EdgeDerivedFrom, ir.EdgeConflictsWith}

func buildGraphView(g *graph.Graph, reqs []*ir.Requirement) GraphView {
	byID := make(map[string]*ir.Requirement, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}

	sum := g.Summary()
	v := GraphView{
		Nodes:       make([]GraphNode, 0, len(sum.Nodes)),
		Edges:       sum.Edges,
		Counts:      sum.Counts,
		Roots:       sum.Roots,
		Leaves:      sum.Leaves,
		NeedsReview: []string{},
		Cycles:      sum.Cycles,
	}
	for _, id := range sum.Nodes {
		r, ok := byID[id]
		if !ok {
			v.Nodes = append(v.Nodes, GraphNode{ID: id, Missing: true})
			continue
		}
		v.Nodes = append(v.Nodes, GraphNode{ID: id, Domain: r.Domain, NeedsReview: r.NeedsReview})
		if r.NeedsReview {
			v.NeedsReview = append(v.NeedsReview, id)
		}
	}
	return v
}

// RenderText implements TextRenderer with the summary form.
func (v GraphView) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirements: %d\n", len(v.Nodes))

	counts := make([]string, 0, len(edgeKinds))
	for _, k := range edgeKinds {
		counts = append(counts, fmt.Sprintf("%s %d", k, v.Counts[k]))
	}
	fmt.Fprintf(&b, "Edges: %d (%s)\n", len(v.Edges), strings.Join(counts, ", "))
	fmt.Fprintf(&b, "Roots: %s\n", listOrNone(v.Roots))
	fmt.Fprintf(&b, "Leaves: %s\n", listOrNone(v.Leaves))
	fmt.Fprintf(&b, "Needs review: %s\n", listOrNone(v.NeedsReview))

	var missing []string
	for _, n := range v.Nodes {
		if n.Missing {
			missing = append(missing, n.ID)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Missing: %s\n", strings.Join(missing, ", "))
	}
	for _, c := range v.Cycles {
		fmt.Fprintf(&b, "Cycle: %s\n", strings.Join(c, " -> "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// DOT renders the view as a Graphviz digraph. Edges point from the holder
// to its target; conflicts_with is symmetric and drawn undirected and dashed.
func (v GraphView) DOT() string {
	var b strings.Builder
	b.WriteString("digraph galed {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	for _, n := range v.Nodes {
		switch {
		case n.Missing:
			fmt.Fprintf(&b, "  %s [style=dotted];\n", dotQuote(n.ID))
		case n.NeedsReview:
			fmt.Fprintf(&b, "  %s [label=%s, style=filled, fillcolor=lightyellow];\n",
				dotQuote(n.ID), dotLabel(n.ID, string(n.Domain)))
		default:
			fmt.Fprintf(&b, "  %s [label=%s];\n", dotQuote(n.ID), dotLabel(n.ID, string(n.Domain)))
		}
	}

	for _, e := range v.Edges {
		attrs := fmt.Sprintf("label=%s", dotQuote(string(e.Kind)))
		if e.Kind == ir.EdgeConflictsWith {
			attrs += ", dir=none, style=dashed"
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotQuote(e.From), dotQuote(e.To), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// DOTGraph is a rendered Graphviz document.
type DOTGraph struct {
	DOT string `json:"dot"`
}

// RenderText implements TextRenderer.
func (d DOTGraph) RenderText(w io.Writer) error {
	_, err := io.WriteString(w, d.DOT)
	return err
}

func dotQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func dotLabel(lines ...string) string {
	escaped := make([]string, len(lines))
	for i, l := range lines {
		escaped[i] = strings.ReplaceAll(l, `"`, `\"`)
	}
	return `"` + strings.Join(escaped, `\n`) + `"`
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph [path]",
		Short: "Show the trace graph",
		Long: `Show the trace graph between requirements.

Text output (--format summary, the default) summarises the graph: edge
counts per kind, roots (requirements that depend on nothing), leaves,
requirements awaiting re-review and any cycles. --format json lists every
node and edge. --format dot (or --dot) writes a Graphviz digraph instead.

path is any path inside the project, like --dir.`,
		Annotations: map[string]string{annotationFormats: "summary,dot"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(rootOpts, cmd, func(s *session) (any, error) {
				view := buildGraphView(s.engine.Graph(), s.engine.Requirements())
				if dot || rootOpts.Format == "dot" {
					return DOTGraph{DOT: view.DOT()}, nil
				}
				return view, nil
			})
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "render as Graphviz DOT")

	return pathArgs(cmd)
}
