package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/galed/internal/ir"
)

// Error is a structural failure of a single mutation or lookup.
//
// A mutation that returns an *Error left the store unchanged. Conflicts are
// not errors; they are recorded on proposals and returned as data.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Requirement, Field and Proposal locate the failure when known.
	Requirement string
	Field       string
	Proposal    ir.ProposalID
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeNotFound: unknown requirement, field or proposal.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeDuplicateID: a requirement or field with this identity already exists.
	CodeDuplicateID ErrorCode = "DUPLICATE_ID"

	// CodeLockedField: direct write to a LOCKED_HUMAN or LOCKED_AI field.
	CodeLockedField ErrorCode = "LOCKED_FIELD"

	// CodeUnauthorized: the actor fails the domain's lock-transition rule.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeCycleDetected: the edge would close a depends_on/derived_from cycle.
	CodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// CodeHasDependents: removal blocked by incoming depends_on/derived_from edges.
	CodeHasDependents ErrorCode = "HAS_DEPENDENTS"

	// CodeWrongStatus: the proposal state machine does not allow the transition.
	CodeWrongStatus ErrorCode = "WRONG_STATUS"

	// CodeInvalidValue: malformed value, kind mismatch, or bad identifier.
	CodeInvalidValue ErrorCode = "INVALID_VALUE"

	// CodeInvalidEdge: self edge or unknown edge kind.
	CodeInvalidEdge ErrorCode = "INVALID_EDGE"
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrDuplicateID   = &Error{Code: CodeDuplicateID}
	ErrLockedField   = &Error{Code: CodeLockedField}
	ErrUnauthorized  = &Error{Code: CodeUnauthorized}
	ErrCycleDetected = &Error{Code: CodeCycleDetected}
	ErrHasDependents = &Error{Code: CodeHasDependents}
	ErrWrongStatus   = &Error{Code: CodeWrongStatus}
	ErrInvalidValue  = &Error{Code: CodeInvalidValue}
	ErrInvalidEdge   = &Error{Code: CodeInvalidEdge}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var loc []string
	if e.Requirement != "" {
		loc = append(loc, "requirement="+e.Requirement)
	}
	if e.Field != "" {
		loc = append(loc, "field="+e.Field)
	}
	if e.Proposal != 0 {
		loc = append(loc, "proposal="+e.Proposal.String())
	}
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if len(loc) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, msg, strings.Join(loc, ", "))
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of an engine error, or "" if err is not one.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if the error is a NOT_FOUND engine error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsLockedField returns true if the error is a LOCKED_FIELD engine error.
func IsLockedField(err error) bool { return CodeOf(err) == CodeLockedField }

// IsUnauthorized returns true if the error is an UNAUTHORIZED engine error.
func IsUnauthorized(err error) bool { return CodeOf(err) == CodeUnauthorized }

// IsCycleError returns true if the error is a CYCLE_DETECTED engine error.
func IsCycleError(err error) bool { return CodeOf(err) == CodeCycleDetected }

// IsWrongStatus returns true if the error is a WRONG_STATUS engine error.
func IsWrongStatus(err error) bool { return CodeOf(err) == CodeWrongStatus }

func errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// at sets the requirement/field location.
func (e *Error) at(requirement, field string) *Error {
	e.Requirement = requirement
	e.Field = field
	return e
}

// of sets the proposal location.
func (e *Error) of(id ir.ProposalID) *Error {
	e.Proposal = id
	return e
}

func requirementNotFound(id string) *Error {
	return errorf(CodeNotFound, "requirement not found").at(id, "")
}

func fieldNotFound(id, path string) *Error {
	return errorf(CodeNotFound, "field not found").at(id, path)
}

func proposalNotFound(id ir.ProposalID) *Error {
	return errorf(CodeNotFound, "proposal not found").of(id)
}
