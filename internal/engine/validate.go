package engine

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/rules"
)

// Schema violation codes (E200-E299)
const (
	// Requirement errors (E200-E209)
	ViolationInvalidID     = "E200" // malformed requirement ID
	ViolationUnknownDomain = "E201" // domain tag not recognised

	// Field errors (E210-E219)
	ViolationMissingField   = "E210" // required field absent
	ViolationEmptyField     = "E211" // required field holds an empty placeholder
	ViolationMustBeLocked   = "E212" // category requires a locked field
	ViolationLockCategory   = "E213" // LOCKED_AI on a human-resolved category
	ViolationInvalidLock    = "E214" // unknown lock state
	ViolationInvalidValue   = "E215" // missing value, or enum symbol not in options
	ViolationInvalidPath    = "E216" // malformed field path
	ViolationInvalidVersion = "E217" // version counter below 1

	// Trace errors (E220-E229)
	ViolationSelfEdge      = "E220" // requirement traces to itself
	ViolationDanglingEdge  = "E221" // edge target does not exist
	ViolationCycle         = "E222" // depends_on/derived_from cycle
	ViolationEdgeKind      = "E223" // unknown edge kind
	ViolationDuplicateEdge = "E224" // same edge listed twice

	// Proposal errors (E230-E239)
	ViolationProposalTarget = "E230" // unresolved proposal targets a missing field
	ViolationProposalStatus = "E231" // unknown proposal status
	ViolationProvenance     = "E232" // field provenance names a proposal that did not set its value
)

// SchemaViolation is a validation-time finding. Violations are collected
// across the whole store; validation never stops at the first one.
type SchemaViolation struct {
	Code        string        `json:"code"`
	Requirement string        `json:"requirement,omitempty"`
	Field       string        `json:"field,omitempty"`
	Proposal    ir.ProposalID `json:"proposal,omitempty"`
	Message     string        `json:"message"`
}

// Error formats the violation.
func (v SchemaViolation) Error() string {
	var loc string
	switch {
	case v.Proposal != 0:
		loc = v.Proposal.String()
	case v.Field != "":
		loc = v.Requirement + ":" + v.Field
	default:
		loc = v.Requirement
	}
	return fmt.Sprintf("[%s] %s: %s", v.Code, loc, v.Message)
}

// Validate checks every requirement, trace edge and proposal against the
// domain rules and structural invariants. Returns all violations sorted by
// location; an empty result means the store is clean.
func (e *Engine) Validate() []SchemaViolation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var vs []SchemaViolation
	for _, id := range slices.Sorted(maps.Keys(e.reqs)) {
		vs = append(vs, validateRequirement(e.rules, e.reqs[id], e.reqs)...)
		vs = append(vs, e.validateProvenance(e.reqs[id])...)
	}

	for _, cycle := range e.graph.Cycles() {
		vs = append(vs, SchemaViolation{
			Code:        ViolationCycle,
			Requirement: cycle[0],
			Message:     "trace cycle " + strings.Join(cycle, " -> "),
		})
	}

	for _, id := range slices.Sorted(maps.Keys(e.proposals)) {
		vs = append(vs, e.validateProposal(e.proposals[id])...)
	}

	slices.SortStableFunc(vs, func(a, b SchemaViolation) int {
		return cmp.Or(
			cmp.Compare(a.Requirement, b.Requirement),
			cmp.Compare(a.Field, b.Field),
			cmp.Compare(a.Proposal, b.Proposal),
			cmp.Compare(a.Code, b.Code),
		)
	})
	return vs
}

// ValidateRequirement checks one requirement record that is not in the
// store, such as a single document: field rules and trace edges, with edge
// targets resolved against the store. A record with the ID of a stored
// requirement stands in for it.
func (e *Engine) ValidateRequirement(r *ir.Requirement) []SchemaViolation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := maps.Clone(e.reqs)
	all[r.ID] = r
	return validateRequirement(e.rules, r, all)
}

func validateRequirement(rs *rules.RuleSet, r *ir.Requirement, all map[string]*ir.Requirement) []SchemaViolation {
	var vs []SchemaViolation
	add := func(code, field, format string, args ...any) {
		vs = append(vs, SchemaViolation{Code: code, Requirement: r.ID, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// E200: malformed ID
	if !ValidID(r.ID) {
		add(ViolationInvalidID, "", "invalid requirement ID %q", r.ID)
	}

	// E201: unknown domain; rule checks below still run against the default rule
	if !ir.ValidDomains[r.Domain] {
		add(ViolationUnknownDomain, "", "unknown domain %q", r.Domain)
	}

	// E210/E211: required fields
	for _, path := range rs.RequiredFields(r.Domain) {
		f, ok := r.Fields[path]
		switch {
		case !ok:
			add(ViolationMissingField, path, "required by %s domain", r.Domain)
		case f.Value != nil && strings.TrimSpace(f.Value.Text()) == "":
			add(ViolationEmptyField, path, "required field is empty")
		}
	}

	for _, path := range r.SortedFieldPaths() {
		f := r.Fields[path]
		category, rule := rs.Lookup(r.Domain, path)

		// E216: malformed path
		if !ValidPath(path) {
			add(ViolationInvalidPath, path, "invalid field path")
		}

		// E214: unknown lock state; skip lock/category checks for this field
		if !ir.ValidLockStates[f.Lock] {
			add(ViolationInvalidLock, path, "invalid lock state %q", f.Lock)
		} else {
			// E212: category must be locked
			if rule.RequireLocked && !f.Lock.Locked() {
				add(ViolationMustBeLocked, path, "%s fields in %s must be locked", category, r.Domain)
			}
			// E213: an AI lock on a field only humans may resolve
			if f.Lock == ir.LockLockedAI && rule.Resolve == rules.WhoHuman {
				add(ViolationLockCategory, path, "%s fields in %s cannot be LOCKED_AI", category, r.Domain)
			}
		}

		// E215: value present and inside enum options
		if f.Value == nil {
			add(ViolationInvalidValue, path, "field has no value")
		} else if f.Value.Kind() == ir.KindEnum && len(f.Options) > 0 && !slices.Contains(f.Options, f.Value.Text()) {
			add(ViolationInvalidValue, path, "%q is not one of %v", f.Value.Text(), f.Options)
		}

		// E217: version counter
		if f.Version < 1 {
			add(ViolationInvalidVersion, path, "version %d; fields start at 1", f.Version)
		}
	}

	seen := make(map[ir.TraceEdge]bool)
	for _, te := range r.Traces {
		switch {
		case !ir.ValidEdgeKinds[te.Kind]:
			add(ViolationEdgeKind, "", "unknown edge kind %q", te.Kind)
		case te.Target == r.ID:
			add(ViolationSelfEdge, "", "%s edge to itself", te.Kind)
		case all[te.Target] == nil:
			add(ViolationDanglingEdge, "", "%s edge to unknown requirement %s", te.Kind, te.Target)
		}
		if seen[te] {
			add(ViolationDuplicateEdge, "", "duplicate %s edge to %s", te.Kind, te.Target)
		}
		seen[te] = true
	}
	return vs
}

func (e *Engine) validateProposal(p *ir.Proposal) []SchemaViolation {
	var vs []SchemaViolation
	add := func(code, format string, args ...any) {
		vs = append(vs, SchemaViolation{
			Code:        code,
			Requirement: p.Target.Requirement,
			Field:       p.Target.Field,
			Proposal:    p.ID,
			Message:     fmt.Sprintf(format, args...),
		})
	}

	// E231: status
	if !ir.ValidProposalStatuses[p.Status] {
		add(ViolationProposalStatus, "unknown status %q", p.Status)
		return vs
	}

	// E230: unresolved proposals must target an existing field
	r, ok := e.reqs[p.Target.Requirement]
	if (!ok || r.Fields[p.Target.Field] == nil) && p.Status.Unresolved() {
		add(ViolationProposalTarget, "targets missing field %s", p.Target)
	}

	return vs
}

// validateProvenance checks that a field whose provenance names a proposal
// still holds that accepted proposal's value.
func (e *Engine) validateProvenance(r *ir.Requirement) []SchemaViolation {
	var vs []SchemaViolation
	for _, path := range r.SortedFieldPaths() {
		f := r.Fields[path]
		id := f.Provenance.ProposalID
		if id == 0 {
			continue
		}
		p, ok := e.proposals[id]
		var problem string
		switch {
		case !ok:
			problem = "unknown proposal " + id.String()
		case p.Status != ir.StatusAccepted:
			problem = fmt.Sprintf("%s is %s", id, p.Status)
		case p.Target != (ir.Target{Requirement: r.ID, Field: path}):
			problem = fmt.Sprintf("%s targets %s", id, p.Target)
		case !p.Change.IsLock() && !ir.Equal(p.Change.Value, f.Value):
			problem = fmt.Sprintf("%s accepted %s but field holds %s", id, ir.FormatValue(p.Change.Value), ir.FormatValue(f.Value))
		}
		if problem != "" {
			vs = append(vs, SchemaViolation{Code: ViolationProvenance, Requirement: r.ID, Field: path, Message: problem})
		}
	}
	return vs
}
