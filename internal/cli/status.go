package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// StatusReport is the project's work queue.
type StatusReport struct {
	Project      document.Meta `json:"project"`
	Requirements int           `json:"requirements"`
	engine.Status
}

// RenderText implements TextRenderer.
func (r StatusReport) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s (%s): %d requirement(s)\n", r.Project.Name, r.Project.Domain, r.Requirements)

	fmt.Fprintf(&b, "Open proposals: %d\n", len(r.Open))
	for _, p := range r.Open {
		fmt.Fprintf(&b, "  %s\n", proposalLine(p))
	}
	fmt.Fprintf(&b, "Conflicting proposals: %d\n", len(r.Conflicting))
	for _, p := range r.Conflicting {
		fmt.Fprintf(&b, "  %s\n", proposalLine(p))
		for _, c := range p.Conflicts {
			fmt.Fprintf(&b, "    %s\n", conflictLine(c))
		}
	}
	fmt.Fprintf(&b, "Needs review: %s\n", listOrNone(r.NeedsReview))

	_, err := io.WriteString(w, b.String())
	return err
}

// proposalLine renders one proposal: "#3 REQ-001:title = "x" OPEN by gpt(ai)".
func proposalLine(p *ir.Proposal) string {
	line := fmt.Sprintf("%s %s = %s %s by %s", p.ID, p.Target, p.Change, p.Status, p.Author)
	if p.Rationale != "" {
		line += fmt.Sprintf(" (%s)", p.Rationale)
	}
	return line
}

// conflictLine renders one recorded conflict.
func conflictLine(c ir.Conflict) string {
	if c.With == 0 {
		return fmt.Sprintf("%s: %s", c.Kind, c.Message)
	}
	return fmt.Sprintf("%s with %s on %s: %s", c.Kind, c.With, c.Target, c.Message)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "List open and conflicting proposals and requirements awaiting re-review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(rootOpts, cmd, func(s *session) (any, error) {
				return StatusReport{
					Project:      s.project.Meta,
					Requirements: len(s.engine.Requirements()),
					Status:       s.engine.Status(),
				}, nil
			})
		},
	}

	return pathArgs(cmd)
}
