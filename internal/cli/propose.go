package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// ProposalResult reports a proposal after a ledger operation.
type ProposalResult struct {
	Action   string       `json:"action"`
	Proposal *ir.Proposal `json:"proposal"`

	// Flagged lists the requirements marked needs_review by an acceptance.
	Flagged []string `json:"flagged,omitempty"`
}

// RenderText implements TextRenderer.
func (r ProposalResult) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.Action, proposalLine(r.Proposal))
	for _, c := range r.Proposal.Conflicts {
		fmt.Fprintf(&b, "  %s\n", conflictLine(c))
	}
	if r.Proposal.Note != "" {
		fmt.Fprintf(&b, "  note: %s\n", r.Proposal.Note)
	}
	if len(r.Flagged) > 0 {
		fmt.Fprintf(&b, "  needs review: %s\n", strings.Join(r.Flagged, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// parseProposalID accepts "7" or "#7".
func parseProposalID(s string) (ir.ProposalID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, commandError(ExitCommandError, ErrCodeInvalidArgs, "invalid proposal ID %q", s)
	}
	return ir.ProposalID(n), nil
}

// parseLockState accepts lock states in any case ("locked_human").
func parseLockState(s string) (ir.LockState, error) {
	state := ir.LockState(strings.ToUpper(s))
	if !ir.ValidLockStates[state] {
		return "", commandError(ExitCommandError, ErrCodeInvalidArgs,
			"invalid lock state %q: must be OPEN, LOCKED_HUMAN or LOCKED_AI", s)
	}
	return state, nil
}

// fieldValue parses raw text as the kind of value the field already holds.
func fieldValue(e *engine.Engine, target ir.Target, raw string) (ir.Value, error) {
	f, err := e.Read(target.Requirement, target.Field)
	if err != nil {
		return nil, err
	}
	kind := f.Kind()
	if kind == "" {
		kind = ir.KindString
	}
	v, err := ir.ParseValue(kind, raw)
	if err != nil {
		return nil, &engine.Error{
			Code:        engine.CodeInvalidValue,
			Message:     err.Error(),
			Requirement: target.Requirement,
			Field:       target.Field,
		}
	}
	return v, nil
}

// changeFromArgs builds a change from an optional value argument and an
// optional --lock flag; exactly one must be given unless allowEmpty.
func changeFromArgs(e *engine.Engine, target ir.Target, values []string, lock string, allowEmpty bool) (ir.Change, error) {
	switch {
	case len(values) > 0 && lock != "":
		return ir.Change{}, commandError(ExitCommandError, ErrCodeInvalidArgs,
			"give either a value or --lock, not both")
	case lock != "":
		state, err := parseLockState(lock)
		if err != nil {
			return ir.Change{}, err
		}
		return ir.Change{Lock: state}, nil
	case len(values) > 0:
		v, err := fieldValue(e, target, values[0])
		if err != nil {
			return ir.Change{}, err
		}
		return ir.Change{Value: v}, nil
	case allowEmpty:
		return ir.Change{}, nil
	default:
		return ir.Change{}, commandError(ExitCommandError, ErrCodeInvalidArgs,
			"a proposal needs a value or --lock")
	}
}

// NewProposeCommand creates the propose command.
func NewProposeCommand(rootOpts *RootOptions) *cobra.Command {
	var rationale, lock string

	cmd := &cobra.Command{
		Use:   "propose <requirement> <field> [value]",
		Short: "Propose a change to a field",
		Long: `Propose a new value, or with --lock a new lock state, for one field.

The value is parsed as the kind the field already holds. Conflict detection
runs immediately: a proposal that disagrees with another unresolved proposal
on the same field, that the domain rules forbid its author from resolving,
or that clashes with a conflicts_with peer starts CONFLICTING, and so do its
counterparts.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				target := ir.Target{Requirement: args[0], Field: args[1]}
				change, err := changeFromArgs(s.engine, target, args[2:], lock, false)
				if err != nil {
					return nil, err
				}
				p, err := s.engine.OpenProposal(target, change, rationale, actor)
				if err != nil {
					return nil, err
				}
				return ProposalResult{Action: "Opened", Proposal: p}, nil
			})
		},
	}

	cmd.Flags().StringVarP(&rationale, "rationale", "r", "", "why the change is needed")
	cmd.Flags().StringVar(&lock, "lock", "", "propose a lock state instead of a value")

	return cmd
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "accept <proposal>",
		Short: "Accept an OPEN proposal and apply its change",
		Long: `Accept an OPEN proposal. The resolver must satisfy the target field's
domain rule. The change is applied with a bumped version, other OPEN
proposals on the field are superseded, and every requirement that depends on
the target is flagged for re-review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, _ ir.Author) (any, error) {
				id, err := parseProposalID(args[0])
				if err != nil {
					return nil, err
				}
				resolver, err := s.authority()
				if err != nil {
					return nil, err
				}
				p, err := s.engine.Accept(id, resolver, note)
				if err != nil {
					return nil, err
				}
				flagged := slices.Sorted(s.engine.Dependents(p.Target.Requirement))
				return ProposalResult{Action: "Accepted", Proposal: p, Flagged: flagged}, nil
			})
		},
	}

	cmd.Flags().StringVarP(&note, "note", "n", "", "resolution note")

	return cmd
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "reject <proposal>",
		Short: "Reject an OPEN or CONFLICTING proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, _ ir.Author) (any, error) {
				id, err := parseProposalID(args[0])
				if err != nil {
					return nil, err
				}
				resolver, err := s.authority()
				if err != nil {
					return nil, err
				}
				p, err := s.engine.Reject(id, resolver, note)
				if err != nil {
					return nil, err
				}
				return ProposalResult{Action: "Rejected", Proposal: p}, nil
			})
		},
	}

	cmd.Flags().StringVarP(&note, "note", "n", "", "resolution note")

	return cmd
}

// NewResubmitCommand creates the resubmit command.
func NewResubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var rationale, lock string

	cmd := &cobra.Command{
		Use:   "resubmit <proposal> [value]",
		Short: "Replace your unresolved proposal with a fresh one",
		Long: `Reject an OPEN or CONFLICTING proposal you authored and open a new one on
the same field. Without a value or --lock the old change is reused; without
--rationale the old rationale is.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				id, err := parseProposalID(args[0])
				if err != nil {
					return nil, err
				}
				old, err := s.engine.Proposal(id)
				if err != nil {
					return nil, err
				}
				change, err := changeFromArgs(s.engine, old.Target, args[1:], lock, true)
				if err != nil {
					return nil, err
				}
				p, err := s.engine.Resubmit(id, change, rationale, actor)
				if err != nil {
					return nil, err
				}
				return ProposalResult{Action: "Resubmitted", Proposal: p}, nil
			})
		},
	}

	cmd.Flags().StringVarP(&rationale, "rationale", "r", "", "why the change is needed (default: the old rationale)")
	cmd.Flags().StringVar(&lock, "lock", "", "propose a lock state instead of a value")

	return cmd
}
