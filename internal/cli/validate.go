package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool                     `json:"valid"`
	Requirements int                      `json:"requirements"`
	Proposals    int                      `json:"proposals"`
	Diagnostics  []document.Diagnostic    `json:"diagnostics,omitempty"`
	Violations   []engine.SchemaViolation `json:"violations,omitempty"`
}

// Problems returns the number of diagnostics and violations.
func (r ValidationResult) Problems() int {
	return len(r.Diagnostics) + len(r.Violations)
}

// RenderText implements TextRenderer.
func (r ValidationResult) RenderText(w io.Writer) error {
	for _, d := range r.Diagnostics {
		fmt.Fprintln(w, d.Error())
	}
	for _, v := range r.Violations {
		fmt.Fprintln(w, v.Error())
	}
	if r.Valid {
		_, err := fmt.Fprintf(w, "OK: %d requirement(s), %d proposal(s)\n", r.Requirements, r.Proposals)
		return err
	}
	_, err := fmt.Fprintf(w, "FAIL: %d problem(s)\n", r.Problems())
	return err
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate requirement documents, traces and proposals",
		Long: `Validate every requirement document against the document schema, then
check the loaded store against the domain rules: required fields, lock
categories, trace edges (dangling, self, cycles) and proposal records.

path is a project directory (or its .galed directory), like --dir. When
path is a single .gal document only that document is checked: its schema
and values, then its fields and trace edges against the rules of the
project it sits in, or the built-in rules outside a project.

All problems are reported at once. With --watch, validation re-runs whenever
a document under .galed changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := pathArg(cmd, args)
			if watch {
				return runValidateWatch(rootOpts, cmd, target)
			}
			return runValidate(rootOpts, cmd, target)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate when documents change")

	return pathArgs(cmd)
}

func runValidate(opts *RootOptions, cmd *cobra.Command, target string) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result, err := validateTarget(opts, cmd, target)
	if err != nil {
		return formatter.Fail(err)
	}
	return outputValidation(formatter, result)
}

// validateTarget validates the whole project, or only the requirement
// document target names when it is a file.
func validateTarget(opts *RootOptions, cmd *cobra.Command, target string) (ValidationResult, error) {
	if target != "" {
		info, err := os.Stat(target)
		if err != nil {
			return ValidationResult{}, commandError(ExitCommandError, ErrCodeInvalidArgs, "%v", err)
		}
		if !info.IsDir() {
			return validateDocument(opts, cmd, target)
		}
	}
	return validateProject(opts, cmd)
}

// validateDocument checks one requirement document on its own.
func validateDocument(opts *RootOptions, cmd *cobra.Command, path string) (ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ValidationResult{}, WrapExitError(ExitCommandError, "read document", err)
	}
	checker, err := document.NewChecker()
	if err != nil {
		return ValidationResult{}, WrapExitError(ExitCommandError, "load document schema", err)
	}

	var r *ir.Requirement
	diags := checker.Check(path, data, document.DefRequirement)
	if len(diags) == 0 {
		r, diags = document.DecodeRequirement(path, data)
	}
	result := ValidationResult{Requirements: 1, Diagnostics: diags}

	if r != nil {
		if opts.Root == "" {
			result.Violations = engine.New(engine.WithLogger(opts.Logger)).ValidateRequirement(r)
		} else {
			s, err := openSession(opts, cmd)
			if err != nil {
				return ValidationResult{}, err
			}
			result.Violations = s.engine.ValidateRequirement(r)
			s.close()
		}
	}

	result.Valid = result.Problems() == 0
	opts.Logger.Debug("validated document", "path", path, "problems", result.Problems())
	return result, nil
}

// validateProject loads the project and collects every problem.
func validateProject(opts *RootOptions, cmd *cobra.Command) (ValidationResult, error) {
	s, err := openSession(opts, cmd)
	if err != nil {
		return ValidationResult{}, err
	}
	defer s.close()

	reqs, props := s.engine.Snapshot()
	result := ValidationResult{
		Requirements: len(reqs),
		Proposals:    len(props),
		Diagnostics:  s.diags,
		Violations:   s.engine.Validate(),
	}
	result.Valid = result.Problems() == 0
	s.out.VerboseLog("Validated %d requirement(s): %d problem(s)", len(reqs), result.Problems())
	return result, nil
}

// outputValidation writes a result; an invalid project exits 1.
func outputValidation(formatter *OutputFormatter, result ValidationResult) error {
	if result.Valid {
		return formatter.Success(result)
	}

	msg := fmt.Sprintf("validation failed: %d problem(s)", result.Problems())
	if formatter.Format == "json" {
		if err := formatter.Error(ErrCodeViolations, msg, result); err != nil {
			return err
		}
	} else if err := result.RenderText(formatter.Writer); err != nil {
		return err
	}
	return &ExitError{Code: ExitFailure, Message: msg, Reported: true}
}
