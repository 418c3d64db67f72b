package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/galed/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation failure or refused mutation (violations, locked field, conflict policy, etc.)
	ExitCommandError = 2 // Command error (no project, bad arguments, unreadable journal, etc.)
)

// CLI error codes (E100-E199). Engine failures report their engine code
// (NOT_FOUND, LOCKED_FIELD, ...) instead.
const (
	ErrCodeNoProject   = "E100" // no .galed directory found
	ErrCodeInvalidArgs = "E101" // malformed argument or flag
	ErrCodeDocuments   = "E102" // project documents have diagnostics
	ErrCodeViolations  = "E103" // validation found violations
	ErrCodeJournal     = "E104" // journal unreadable or chain broken
	ErrCodeNoAuthor    = "E105" // no author identity configured
	ErrCodeGeneric     = "E199" // anything else
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written through an
	// OutputFormatter, so main does not print it again.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written to the command output.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E100", "LOCKED_FIELD", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// TextRenderer is implemented by results that have a human-readable form
// richer than fmt.Println.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

func newFormatter(opts *RootOptions, w, errW io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    w,
		ErrWriter: errW, // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	if r, ok := data.(TextRenderer); ok {
		return r.RenderText(f.Writer)
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err through the formatter and returns an ExitError carrying
// the matching exit code. Engine errors keep their own code and exit 1;
// ExitErrors keep theirs; anything else is a command error.
func (f *OutputFormatter) Fail(err error) error {
	code, exit, details := ErrCodeGeneric, ExitCommandError, any(nil)

	var engErr *engine.Error
	var exitErr *ExitError
	switch {
	case errors.As(err, &engErr):
		code, exit = string(engErr.Code), ExitFailure
		if d := errorDetails(engErr); d != nil {
			details = d
		}
	case errors.As(err, &exitErr):
		exit = exitErr.Code
		if c, ok := errorCodeOf(exitErr); ok {
			code = c
		}
	}

	if werr := f.Error(code, err.Error(), details); werr != nil {
		return werr
	}
	return &ExitError{Code: exit, Message: err.Error(), Err: err, Reported: true}
}

// codedError attaches a CLI error code to a message.
type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string { return e.msg }

// commandError returns an ExitError with a CLI error code.
func commandError(exit int, code, format string, args ...any) *ExitError {
	msg := fmt.Sprintf(format, args...)
	return &ExitError{Code: exit, Message: msg, Err: &codedError{code: code, msg: msg}}
}

func errorCodeOf(err error) (string, bool) {
	var c *codedError
	if errors.As(err, &c) {
		return c.code, true
	}
	return "", false
}

// errorDetails locates an engine error for JSON output.
func errorDetails(e *engine.Error) map[string]any {
	d := map[string]any{}
	if e.Requirement != "" {
		d["requirement"] = e.Requirement
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	if e.Proposal != 0 {
		d["proposal"] = int64(e.Proposal)
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
