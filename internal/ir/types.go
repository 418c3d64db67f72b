package ir

import (
	"fmt"
	"slices"
	"time"
)

// Domain fixes which lock rules apply to a requirement.
type Domain string

const (
	DomainClinical  Domain = "clinical"
	DomainAerospace Domain = "aerospace"
	DomainResearch  Domain = "research"
	DomainGeneral   Domain = "general"
)

// ValidDomains defines allowed domain tags.
var ValidDomains = map[Domain]bool{
	DomainClinical:  true,
	DomainAerospace: true,
	DomainResearch:  true,
	DomainGeneral:   true,
}

// LockState gates whether a field accepts direct writes.
type LockState string

const (
	LockOpen        LockState = "OPEN"
	LockLockedHuman LockState = "LOCKED_HUMAN"
	LockLockedAI    LockState = "LOCKED_AI"
)

// ValidLockStates defines allowed lock states.
var ValidLockStates = map[LockState]bool{
	LockOpen:        true,
	LockLockedHuman: true,
	LockLockedAI:    true,
}

// Locked reports whether the state rejects direct writes.
func (s LockState) Locked() bool { return s != LockOpen }

// AuthorKind distinguishes human and AI authorship.
type AuthorKind string

const (
	AuthorHuman AuthorKind = "human"
	AuthorAI    AuthorKind = "ai"
)

// ValidAuthorKinds defines allowed author kinds.
var ValidAuthorKinds = map[AuthorKind]bool{
	AuthorHuman: true,
	AuthorAI:    true,
}

// Author identifies who made a change.
type Author struct {
	ID   string     `json:"id"`
	Kind AuthorKind `json:"kind"`
}

func (a Author) String() string { return fmt.Sprintf("%s(%s)", a.ID, a.Kind) }

// Authority is the capability presented by a resolver or authorizer.
// The token is opaque to the engine; it is issued and checked by the
// surrounding auth layer, which also asserts the author kind.
type Authority struct {
	Author
	Token string `json:"-"`
}

// Provenance records who last set a field value and how.
type Provenance struct {
	Author     Author     `json:"author"`
	At         time.Time  `json:"at"`
	ProposalID ProposalID `json:"proposal_id,omitempty"`
	Source     string     `json:"source,omitempty"` // external origin, e.g. "jira:ABC-12"
}

// Field is a typed value with lock state, provenance, and version counter.
type Field struct {
	Value      Value      `json:"value"`
	Lock       LockState  `json:"lock"`
	Provenance Provenance `json:"provenance"`
	Version    int64      `json:"version"`
	Options    []string   `json:"options,omitempty"` // allowed symbols for enum fields
}

// Kind returns the kind of the field's current value.
func (f *Field) Kind() Kind {
	if f.Value == nil {
		return ""
	}
	return f.Value.Kind()
}

// Accepts checks that v can be stored in this field: same kind, and for
// enum fields, one of the declared options.
func (f *Field) Accepts(v Value) error {
	if v == nil {
		return fmt.Errorf("value is required")
	}
	if f.Value != nil && v.Kind() != f.Value.Kind() {
		return fmt.Errorf("field holds %s, got %s", f.Value.Kind(), v.Kind())
	}
	if v.Kind() == KindEnum && len(f.Options) > 0 && !slices.Contains(f.Options, v.Text()) {
		return fmt.Errorf("%q is not one of %v", v.Text(), f.Options)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	cp := *f
	cp.Options = slices.Clone(f.Options)
	return &cp
}

// EdgeKind is the relation carried by a trace edge.
type EdgeKind string

const (
	EdgeDependsOn     EdgeKind = "depends_on"
	EdgeDerivedFrom   EdgeKind = "derived_from"
	EdgeConflictsWith EdgeKind = "conflicts_with"
)

// ValidEdgeKinds defines allowed trace edge kinds.
var ValidEdgeKinds = map[EdgeKind]bool{
	EdgeDependsOn:     true,
	EdgeDerivedFrom:   true,
	EdgeConflictsWith: true,
}

// Acyclic reports whether edges of this kind must not form a cycle.
func (k EdgeKind) Acyclic() bool {
	return k == EdgeDependsOn || k == EdgeDerivedFrom
}

// TraceEdge is an outgoing traceability link.
type TraceEdge struct {
	Kind   EdgeKind `json:"kind"`
	Target string   `json:"target"`
}

// Requirement is a single governed requirement.
type Requirement struct {
	ID          string            `json:"id"`
	Domain      Domain            `json:"domain"`
	Fields      map[string]*Field `json:"fields"`
	Traces      []TraceEdge       `json:"traces,omitempty"`
	NeedsReview bool              `json:"needs_review"`
	Source      string            `json:"source,omitempty"`
}

// SortedFieldPaths returns field paths in lexical order for deterministic iteration.
func (r *Requirement) SortedFieldPaths() []string {
	paths := make([]string, 0, len(r.Fields))
	for p := range r.Fields {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// HasEdge reports whether the requirement holds the given outgoing edge.
func (r *Requirement) HasEdge(e TraceEdge) bool {
	return slices.Contains(r.Traces, e)
}

// Clone returns a deep copy.
func (r *Requirement) Clone() *Requirement {
	cp := *r
	cp.Fields = make(map[string]*Field, len(r.Fields))
	for p, f := range r.Fields {
		cp.Fields[p] = f.Clone()
	}
	cp.Traces = slices.Clone(r.Traces)
	return &cp
}

// ProposalID is a monotonic proposal identifier.
type ProposalID int64

func (id ProposalID) String() string { return fmt.Sprintf("#%d", id) }

// ProposalStatus is a proposal's lifecycle state.
type ProposalStatus string

const (
	StatusOpen        ProposalStatus = "OPEN"
	StatusAccepted    ProposalStatus = "ACCEPTED"
	StatusRejected    ProposalStatus = "REJECTED"
	StatusSuperseded  ProposalStatus = "SUPERSEDED"
	StatusConflicting ProposalStatus = "CONFLICTING"
)

// ValidProposalStatuses defines allowed proposal statuses.
var ValidProposalStatuses = map[ProposalStatus]bool{
	StatusOpen:        true,
	StatusAccepted:    true,
	StatusRejected:    true,
	StatusSuperseded:  true,
	StatusConflicting: true,
}

// Unresolved reports whether the proposal still awaits a decision.
func (s ProposalStatus) Unresolved() bool {
	return s == StatusOpen || s == StatusConflicting
}

// Target addresses one field of one requirement.
type Target struct {
	Requirement string `json:"requirement"`
	Field       string `json:"field"`
}

func (t Target) String() string { return t.Requirement + ":" + t.Field }

// Change is what a proposal asks for: a new value, or a new lock state.
// Exactly one of Value and Lock is set.
type Change struct {
	Value Value     `json:"value,omitempty"`
	Lock  LockState `json:"lock,omitempty"`
}

// IsLock reports whether the change targets the lock state.
func (c Change) IsLock() bool { return c.Lock != "" }

// Equal reports whether two changes ask for the same outcome.
func (c Change) Equal(o Change) bool {
	if c.IsLock() || o.IsLock() {
		return c.Lock == o.Lock && c.Value == nil && o.Value == nil
	}
	return Equal(c.Value, o.Value)
}

func (c Change) String() string {
	if c.IsLock() {
		return "lock=" + string(c.Lock)
	}
	return FormatValue(c.Value)
}

// ConflictKind categorises detected conflicts.
type ConflictKind string

const (
	// ConflictValue: another unresolved proposal on the same field asks for a different value.
	ConflictValue ConflictKind = "VALUE_CONFLICT"

	// ConflictPolicy: the domain rule forbids the proposing author's kind from resolving the field.
	ConflictPolicy ConflictKind = "POLICY_CONFLICT"

	// ConflictCrossRequirement: a conflicts_with peer has an incompatible proposal on the same field.
	ConflictCrossRequirement ConflictKind = "CROSS_REQUIREMENT_CONFLICT"
)

// Conflict is a recorded incompatibility. Conflicts are data, not errors.
type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	With    ProposalID   `json:"with,omitempty"` // counterpart proposal; 0 for policy conflicts
	Target  Target       `json:"target"`         // counterpart's target
	Message string       `json:"message"`
}

// Proposal is a request to change one field, with its resolution record.
type Proposal struct {
	ID              ProposalID     `json:"id"`
	Target          Target         `json:"target"`
	Change          Change         `json:"change"`
	Rationale       string         `json:"rationale,omitempty"`
	Author          Author         `json:"author"`
	Status          ProposalStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      time.Time      `json:"resolved_at,omitzero"`
	Resolver        *Author        `json:"resolver,omitempty"`
	Note            string         `json:"note,omitempty"`
	Conflicts       []Conflict     `json:"conflicts,omitempty"`
	ResubmittedFrom ProposalID     `json:"resubmitted_from,omitempty"`
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	cp := *p
	cp.Conflicts = slices.Clone(p.Conflicts)
	if p.Resolver != nil {
		r := *p.Resolver
		cp.Resolver = &r
	}
	return &cp
}
