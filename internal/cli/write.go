package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/ir"
)

// FieldResult reports a field after a direct change.
type FieldResult struct {
	Target ir.Target `json:"target"`
	Field  *ir.Field `json:"field"`
}

// RenderText implements TextRenderer.
func (r FieldResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s = %s  %s v%d\n",
		r.Target, ir.FormatValue(r.Field.Value), r.Field.Lock, r.Field.Version)
	return err
}

// Message is a one-line result.
type Message struct {
	Message string `json:"message"`
}

// RenderText implements TextRenderer.
func (m Message) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, m.Message)
	return err
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <requirement> <field> <value>",
		Short: "Write an OPEN field directly",
		Long: `Write a new value to an OPEN field without a proposal. Locked fields
refuse direct writes; propose the change instead.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, actor ir.Author) (any, error) {
				target := ir.Target{Requirement: args[0], Field: args[1]}
				v, err := fieldValue(s.engine, target, args[2])
				if err != nil {
					return nil, err
				}
				f, err := s.engine.Write(target.Requirement, target.Field, v, actor)
				if err != nil {
					return nil, err
				}
				return FieldResult{Target: target, Field: f}, nil
			})
		},
	}

	return cmd
}

// NewLockCommand creates the lock command.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock <requirement> <field> <state>",
		Short: "Change a field's lock state directly",
		Long: `Set a field's lock state to OPEN, LOCKED_HUMAN or LOCKED_AI. The author
kind must satisfy the domain's lock or unlock rule; fields whose rule only
unlocks through a proposal refuse a direct unlock.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, func(s *session, _ ir.Author) (any, error) {
				state, err := parseLockState(args[2])
				if err != nil {
					return nil, err
				}
				authority, err := s.authority()
				if err != nil {
					return nil, err
				}
				if err := s.engine.SetLock(args[0], args[1], state, authority); err != nil {
					return nil, err
				}
				f, err := s.engine.Read(args[0], args[1])
				if err != nil {
					return nil, err
				}
				return FieldResult{Target: ir.Target{Requirement: args[0], Field: args[1]}, Field: f}, nil
			})
		},
	}

	return cmd
}

// parseAssignment splits "key=value".
func parseAssignment(flag, s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", "", commandError(ExitCommandError, ErrCodeInvalidArgs, "--%s %q: expected key=value", flag, s)
	}
	return key, value, nil
}
