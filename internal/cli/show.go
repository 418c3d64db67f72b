package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/ir"
)

// ShowResult is one requirement with everything that refers to it.
type ShowResult struct {
	Requirement *ir.Requirement `json:"requirement"`
	Proposals   []*ir.Proposal  `json:"proposals"`
	Dependents  []string        `json:"dependents"`

	// Digests maps each field path to the digest of its value. Equal values
	// have equal digests across requirements, whatever their spelling.
	Digests map[string]string `json:"digests"`
}

func newShowResult(req *ir.Requirement, props []*ir.Proposal, dependents []string) (ShowResult, error) {
	digests := make(map[string]string, len(req.Fields))
	for path, f := range req.Fields {
		if f.Value == nil {
			continue
		}
		d, err := ir.ValueDigest(f.Value)
		if err != nil {
			return ShowResult{}, fmt.Errorf("%s:%s: %w", req.ID, path, err)
		}
		digests[path] = d
	}
	return ShowResult{Requirement: req, Proposals: props, Dependents: dependents, Digests: digests}, nil
}

// RenderText implements TextRenderer.
func (r ShowResult) RenderText(w io.Writer) error {
	req := r.Requirement
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s)", req.ID, req.Domain)
	if req.NeedsReview {
		b.WriteString(" [needs review]")
	}
	b.WriteString("\n")
	if req.Source != "" {
		fmt.Fprintf(&b, "source: %s\n", req.Source)
	}

	b.WriteString("fields:\n")
	for _, path := range req.SortedFieldPaths() {
		f := req.Fields[path]
		fmt.Fprintf(&b, "  %s = %s  %s v%d", path, ir.FormatValue(f.Value), f.Lock, f.Version)
		if f.Provenance.Author.ID != "" {
			fmt.Fprintf(&b, "  %s", f.Provenance.Author)
		}
		if f.Provenance.ProposalID != 0 {
			fmt.Fprintf(&b, " via %s", f.Provenance.ProposalID)
		}
		if len(f.Options) > 0 {
			fmt.Fprintf(&b, "  options: %s", strings.Join(f.Options, "|"))
		}
		b.WriteString("\n")
	}

	if len(req.Traces) > 0 {
		b.WriteString("traces:\n")
		for _, t := range req.Traces {
			fmt.Fprintf(&b, "  %s %s\n", t.Kind, t.Target)
		}
	}
	if len(r.Dependents) > 0 {
		fmt.Fprintf(&b, "dependents: %s\n", strings.Join(r.Dependents, ", "))
	}
	if len(r.Proposals) > 0 {
		b.WriteString("proposals:\n")
		for _, p := range r.Proposals {
			fmt.Fprintf(&b, "  %s\n", proposalLine(p))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <requirement>",
		Short: "Show a requirement's fields, traces, dependents and proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(rootOpts, cmd, func(s *session) (any, error) {
				req, err := s.engine.Requirement(args[0])
				if err != nil {
					return nil, err
				}

				props := []*ir.Proposal{}
				for _, path := range req.SortedFieldPaths() {
					props = append(props, s.engine.Proposals(ir.Target{Requirement: req.ID, Field: path})...)
				}
				slices.SortFunc(props, func(a, b *ir.Proposal) int { return cmp.Compare(a.ID, b.ID) })

				dependents := slices.Sorted(s.engine.Dependents(req.ID))
				if dependents == nil {
					dependents = []string{}
				}
				return newShowResult(req, props, dependents)
			})
		},
	}

	return cmd
}
