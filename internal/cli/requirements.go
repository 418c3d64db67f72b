package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// fieldFlags are the repeatable field definitions of create.
type fieldFlags struct {
	fields  []string // path[:kind]=value
	options []string // path=a,b,c
	locks   []string // path=STATE
}

// specs turns the flags into field specs keyed by path.
func (ff fieldFlags) specs() (map[string]engine.FieldSpec, error) {
	specs := make(map[string]engine.FieldSpec)
	options := make(map[string][]string)
	for _, o := range ff.options {
		path, list, err := parseAssignment("options", o)
		if err != nil {
			return nil, err
		}
		options[path] = strings.Split(list, ",")
	}

	for _, f := range ff.fields {
		key, raw, err := parseAssignment("field", f)
		if err != nil {
			return nil, err
		}
		path, kindName, hasKind := strings.Cut(key, ":")
		kind := ir.KindString
		switch {
		case hasKind:
			kind = ir.Kind(kindName)
		case options[path] != nil:
			kind = ir.KindEnum
		}
		if !ir.ValidKinds[kind] {
			return nil, commandError(ExitCommandError, ErrCodeInvalidArgs,
				"--field %q: unknown kind %q (string, number, boolean, enum)", f, kindName)
		}
		v, err := ir.ParseValue(kind, raw)
		if err != nil {
			return nil, commandError(ExitCommandError, ErrCodeInvalidArgs, "--field %q: %v", f, err)
		}
		specs[path] = engine.FieldSpec{Value: v, Options: options[path]}
	}

	for _, l := range ff.locks {
		path, raw, err := parseAssignment("lock", l)
		if err != nil {
			return nil, err
		}
		spec, ok := specs[path]
		if !ok {
			return nil, commandError(ExitCommandError, ErrCodeInvalidArgs, "--lock %q: no --field %s", l, path)
		}
		if spec.Lock, err = parseLockState(raw); err != nil {
			return nil, err
		}
		specs[path] = spec
	}
	for path := range options {
		if _, ok := specs[path]; !ok {
			return nil, commandError(ExitCommandError, ErrCodeInvalidArgs, "--options %s: no --field %s", path, path)
		}
	}
	return specs, nil
}

// requirementResult reads back a requirement for output.
func requirementResult(e *engine.Engine, id string) (ShowResult, error) {
	r, err := e.Requirement(id)
	if err != nil {
		return ShowResult{}, err
	}
	return newShowResult(r, []*ir.Proposal{}, []string{})
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		domain string
		ff     fieldFlags
	)

	cmd := &cobra.Command{
		Use:   "create <requirement>",
		Short: "Create a requirement",
		Long: `Create a requirement and define its fields. Each --field is
path[:kind]=value with kind one of string (default), number, boolean, enum.
--options path=a,b,c declares the symbols of an enum field; --lock
path=STATE creates a field already locked.

Example:
  galed create REQ-001 --field title="Dose limit" \
    --field ac.threshold:number=5 --lock ac.threshold=LOCKED_HUMAN`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				specs, err := ff.specs()
				if err != nil {
					return nil, err
				}
				d := ir.Domain(domain)
				if d == "" {
					d = s.project.Meta.Domain
				}
				if _, err := s.engine.Create(args[0], d, actor); err != nil {
					return nil, err
				}
				for _, path := range slices.Sorted(maps.Keys(specs)) {
					if _, err := s.engine.DefineField(args[0], path, specs[path], actor); err != nil {
						return nil, err
					}
				}
				return requirementResult(s.engine, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "requirement domain (default: the project domain)")
	cmd.Flags().StringArrayVarP(&ff.fields, "field", "f", nil, "field as path[:kind]=value (repeatable)")
	cmd.Flags().StringArrayVar(&ff.options, "options", nil, "enum symbols as path=a,b,c (repeatable)")
	cmd.Flags().StringArrayVar(&ff.locks, "lock", nil, "initial lock as path=STATE (repeatable)")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		source, issue, domain string
		fields                []string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a requirement stub for an external issue",
		Long: `Create a requirement for an issue in an external tracker. The ID is
SOURCE-ISSUE in upper case (--source jira --issue ABC-12 creates
JIRA-ABC-12). The domain's required fields are created as empty strings
unless given with --field path=value; every field is OPEN and records the
issue as its provenance source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				raw := make(map[string]string, len(fields))
				for _, f := range fields {
					path, value, err := parseAssignment("field", f)
					if err != nil {
						return nil, err
					}
					raw[path] = value
				}
				d := ir.Domain(domain)
				if d == "" {
					d = s.project.Meta.Domain
				}
				r, err := s.engine.ImportStub(source, issue, d, raw, actor)
				if err != nil {
					return nil, err
				}
				return requirementResult(s.engine, r.ID)
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "issue tracker, e.g. jira or ado")
	cmd.Flags().StringVar(&issue, "issue", "", "issue key, e.g. ABC-12")
	cmd.Flags().StringVar(&domain, "domain", "", "requirement domain (default: the project domain)")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field value as path=value (repeatable)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("issue")

	return cmd
}

// parseEdgeKind validates an edge kind argument.
func parseEdgeKind(s string) (ir.EdgeKind, error) {
	kind := ir.EdgeKind(s)
	if !ir.ValidEdgeKinds[kind] {
		return "", commandError(ExitCommandError, ErrCodeInvalidArgs,
			"invalid edge kind %q: must be depends_on, derived_from or conflicts_with", s)
	}
	return kind, nil
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <from> <kind> <to>",
		Short: "Add a trace edge between requirements",
		Long: `Add a trace edge. depends_on and derived_from edges may not form a
cycle; conflicts_with is symmetric.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				kind, err := parseEdgeKind(args[1])
				if err != nil {
					return nil, err
				}
				if err := s.engine.AddEdge(args[0], kind, args[2], actor); err != nil {
					return nil, err
				}
				return Message{Message: fmt.Sprintf("%s %s %s", args[0], kind, args[2])}, nil
			})
		},
	}

	return cmd
}

// NewUnlinkCommand creates the unlink command.
func NewUnlinkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlink <from> <kind> <to>",
		Short: "Remove a trace edge",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				kind, err := parseEdgeKind(args[1])
				if err != nil {
					return nil, err
				}
				if err := s.engine.RemoveEdge(args[0], kind, args[2], actor); err != nil {
					return nil, err
				}
				return Message{Message: fmt.Sprintf("removed %s %s %s", args[0], kind, args[2])}, nil
			})
		},
	}

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove <requirement>",
		Short: "Remove a requirement",
		Long: `Remove a requirement and its document. Removal is refused while other
requirements depend on or derive from it; --force drops those edges and
flags their holders for re-review. Unresolved proposals on the requirement
are superseded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				if err := s.engine.Remove(args[0], force, actor); err != nil {
					return nil, err
				}
				return Message{Message: "removed " + args[0]}, nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "remove even if other requirements depend on it")

	return cmd
}

// ReviewResult lists requirements whose review flag changed.
type ReviewResult struct {
	Action       string   `json:"action"`
	Requirements []string `json:"requirements"`
}

// RenderText implements TextRenderer.
func (r ReviewResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: %s\n", r.Action, listOrNone(r.Requirements))
	return err
}

// NewReviewCommand creates the review command group.
func NewReviewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manage needs_review flags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <requirement>...",
		Short: "Clear the needs_review flag after re-validating requirements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				for _, id := range args {
					if err := s.engine.ClearReview(id, actor); err != nil {
						return nil, err
					}
				}
				return ReviewResult{Action: "Cleared", Requirements: args}, nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "propagate <requirement>",
		Short: "Flag everything that depends on a requirement for re-review",
		Long: `Run impact propagation from a requirement without accepting a proposal,
for example after importing or hand-editing documents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				flagged, err := s.engine.Propagate(args[0], actor)
				if err != nil {
					return nil, err
				}
				if flagged == nil {
					flagged = []string{}
				}
				return ReviewResult{Action: "Flagged", Requirements: flagged}, nil
			})
		},
	})

	return cmd
}
