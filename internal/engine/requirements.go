package engine

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/galed/internal/graph"
	"github.com/roach88/galed/internal/ir"
)

var (
	idPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
	pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*(\.[A-Za-z_][A-Za-z0-9_-]*)*$`)
)

// ValidID reports whether s is a well-formed requirement ID.
func ValidID(s string) bool { return idPattern.MatchString(s) }

// ValidPath reports whether s is a well-formed dot-separated field path.
func ValidPath(s string) bool { return pathPattern.MatchString(s) }

// FieldSpec describes a field to define on a requirement.
type FieldSpec struct {
	Value   ir.Value
	Lock    ir.LockState // empty means OPEN
	Options []string     // allowed symbols for enum values
	Source  string       // external origin recorded in provenance
}

// Create adds an empty requirement.
func (e *Engine) Create(id string, domain ir.Domain, actor ir.Author) (*ir.Requirement, error) {
	var out *ir.Requirement
	err := e.update("create", actor, func(t *tx) error {
		r, err := t.create(id, domain, "")
		if err != nil {
			return err
		}
		out = r.Clone()
		return nil
	})
	return out, err
}

func (t *tx) create(id string, domain ir.Domain, source string) (*ir.Requirement, error) {
	if !ValidID(id) {
		return nil, errorf(CodeInvalidValue, "invalid requirement ID %q", id)
	}
	if !ir.ValidDomains[domain] {
		return nil, errorf(CodeInvalidValue, "unknown domain %q", domain).at(id, "")
	}
	if _, exists := t.requirement(id); exists {
		return nil, errorf(CodeDuplicateID, "requirement already exists").at(id, "")
	}

	r := &ir.Requirement{
		ID:     id,
		Domain: domain,
		Fields: make(map[string]*ir.Field),
		Source: source,
	}
	t.reqs[id] = r
	t.mutableGraph().AddNode(id)

	data := map[string]any{"domain": string(domain)}
	if source != "" {
		data["source"] = source
	}
	t.emit(ir.EventRequirementCreated, ir.Target{Requirement: id}, 0, data)
	return r, nil
}

// DefineField adds a new field at version 1. Fails with DuplicateId if the
// path already exists; redefining a field would bypass its lock.
func (e *Engine) DefineField(id, path string, spec FieldSpec, actor ir.Author) (*ir.Field, error) {
	var out *ir.Field
	err := e.update("define_field", actor, func(t *tx) error {
		f, err := t.defineField(id, path, spec)
		if err != nil {
			return err
		}
		out = f.Clone()
		return nil
	})
	return out, err
}

func (t *tx) defineField(id, path string, spec FieldSpec) (*ir.Field, error) {
	if _, ok := t.requirement(id); !ok {
		return nil, requirementNotFound(id)
	}
	if !ValidPath(path) {
		return nil, errorf(CodeInvalidValue, "invalid field path %q", path).at(id, "")
	}
	r := t.mutable(id)
	if _, exists := r.Fields[path]; exists {
		return nil, errorf(CodeDuplicateID, "field already defined").at(id, path)
	}
	lock := spec.Lock
	if lock == "" {
		lock = ir.LockOpen
	}
	if !ir.ValidLockStates[lock] {
		return nil, errorf(CodeInvalidValue, "invalid lock state %q", lock).at(id, path)
	}
	f := &ir.Field{Lock: lock, Options: slices.Clone(spec.Options)}
	if err := f.Accepts(spec.Value); err != nil {
		return nil, errorf(CodeInvalidValue, "%v", err).at(id, path)
	}
	f.Value = spec.Value
	f.Version = 1
	f.Provenance = ir.Provenance{Author: t.actor, At: t.now, Source: spec.Source}
	r.Fields[path] = f

	t.emit(ir.EventFieldDefined, ir.Target{Requirement: id, Field: path}, 0, map[string]any{
		"value": f.Value,
		"lock":  string(f.Lock),
	})
	return f, nil
}

// AddEdge inserts a trace edge from → to.
//
// Fails with CycleDetected if a depends_on/derived_from edge would close a
// cycle (checked before insertion). Adding an edge that already exists is a
// no-op; conflicts_with is symmetric, so B conflicts_with A duplicates
// A conflicts_with B.
func (e *Engine) AddEdge(from string, kind ir.EdgeKind, to string, actor ir.Author) error {
	return e.update("add_edge", actor, func(t *tx) error {
		return t.addEdge(from, kind, to)
	})
}

func (t *tx) addEdge(from string, kind ir.EdgeKind, to string) error {
	if !ir.ValidEdgeKinds[kind] {
		return errorf(CodeInvalidEdge, "unknown edge kind %q", kind).at(from, "")
	}
	if _, ok := t.requirement(from); !ok {
		return requirementNotFound(from)
	}
	if _, ok := t.requirement(to); !ok {
		return requirementNotFound(to)
	}
	if from == to {
		return errorf(CodeInvalidEdge, "requirement may not trace to itself").at(from, "")
	}

	edge := graph.Edge{From: from, To: to, Kind: kind}
	if t.g().HasEdge(edge) {
		return nil
	}
	if kind == ir.EdgeConflictsWith && t.g().HasEdge(graph.Edge{From: to, To: from, Kind: kind}) {
		return nil
	}
	if path := t.g().DetectCycle(edge); path != nil {
		return errorf(CodeCycleDetected, "%s edge would close cycle %s", kind, strings.Join(path, " -> ")).at(from, "")
	}

	t.mutableGraph().AddEdge(edge)
	r := t.mutable(from)
	r.Traces = append(r.Traces, ir.TraceEdge{Kind: kind, Target: to})

	t.emit(ir.EventEdgeAdded, ir.Target{Requirement: from}, 0, map[string]any{
		"kind":   string(kind),
		"target": to,
	})
	return nil
}

// RemoveEdge deletes a trace edge. conflicts_with edges are matched in
// either orientation.
func (e *Engine) RemoveEdge(from string, kind ir.EdgeKind, to string, actor ir.Author) error {
	return e.update("remove_edge", actor, func(t *tx) error {
		edge := graph.Edge{From: from, To: to, Kind: kind}
		if !t.g().HasEdge(edge) && kind == ir.EdgeConflictsWith {
			edge = graph.Edge{From: to, To: from, Kind: kind}
		}
		if !t.g().HasEdge(edge) {
			return errorf(CodeNotFound, "no %s edge to %s", kind, to).at(from, "")
		}
		t.dropEdge(edge)
		return nil
	})
}

// dropEdge removes an edge from the graph and from its holder's trace list.
func (t *tx) dropEdge(edge graph.Edge) {
	t.mutableGraph().RemoveEdge(edge)
	if _, ok := t.requirement(edge.From); ok {
		r := t.mutable(edge.From)
		r.Traces = slices.DeleteFunc(r.Traces, func(te ir.TraceEdge) bool {
			return te.Kind == edge.Kind && te.Target == edge.To
		})
	}
	t.emit(ir.EventEdgeRemoved, ir.Target{Requirement: edge.From}, 0, map[string]any{
		"kind":   string(edge.Kind),
		"target": edge.To,
	})
}

// Remove deletes a requirement.
//
// Fails with HasDependents if other requirements hold depends_on or
// derived_from edges to it, unless force is set: then those edges are
// removed and their holders are flagged needs_review. conflicts_with edges
// to the requirement are always dropped. Unresolved proposals on it become
// SUPERSEDED with note "target removed"; with reopen-on-reject enabled,
// their CONFLICTING counterparts elsewhere are re-checked as on a reject.
func (e *Engine) Remove(id string, force bool, actor ir.Author) error {
	return e.update("remove", actor, func(t *tx) error {
		if _, ok := t.requirement(id); !ok {
			return requirementNotFound(id)
		}

		dependents := slices.DeleteFunc(t.g().Dependents(id), func(d string) bool { return d == id })
		if len(dependents) > 0 && !force {
			return errorf(CodeHasDependents, "required by %s", strings.Join(dependents, ", ")).at(id, "")
		}

		for _, edge := range t.g().Incoming(id) {
			if edge.From == id {
				continue
			}
			t.dropEdge(edge)
			if edge.Kind.Acyclic() {
				t.flag(edge.From, id)
			}
		}

		var counterparts []ir.ProposalID
		for _, p := range t.proposalsFor(id) {
			if p.Status.Unresolved() {
				counterparts = append(counterparts, conflictPartners(p)...)
				t.resolve(p.ID, ir.StatusSuperseded, "target removed", nil)
			}
		}
		r, _ := t.requirement(id)
		for _, path := range r.SortedFieldPaths() {
			target := ir.Target{Requirement: id, Field: path}
			if _, ok := t.head(target); ok {
				t.setHead(target, 0)
			}
		}

		t.mutableGraph().RemoveNode(id)
		t.reqs[id] = nil
		t.emit(ir.EventRequirementRemoved, ir.Target{Requirement: id}, 0, map[string]any{
			"force":      force,
			"dependents": dependents,
		})

		if t.e.reopenOnReject {
			slices.Sort(counterparts)
			for _, q := range slices.Compact(counterparts) {
				t.reopen(q)
			}
		}
		return nil
	})
}

// ImportStub creates a requirement for an issue in an external tracker.
//
// The ID is SOURCE-ISSUE in upper case (jira, ABC-12 → JIRA-ABC-12). The
// domain's required fields are created as empty strings unless raw values
// are supplied; supplied values are stored as strings. All fields are OPEN
// and their provenance carries Source "source:issue".
func (e *Engine) ImportStub(source, issue string, domain ir.Domain, raw map[string]string, actor ir.Author) (*ir.Requirement, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	issue = strings.TrimSpace(issue)

	var out *ir.Requirement
	err := e.update("import", actor, func(t *tx) error {
		if source == "" || issue == "" {
			return errorf(CodeInvalidValue, "source and issue are required")
		}
		id := strings.ToUpper(source) + "-" + issue
		origin := fmt.Sprintf("%s:%s", source, issue)
		if _, err := t.create(id, domain, origin); err != nil {
			return err
		}

		paths := t.e.rules.RequiredFields(domain)
		for p := range raw {
			if !slices.Contains(paths, p) {
				paths = append(paths, p)
			}
		}
		slices.Sort(paths)
		for _, p := range paths {
			spec := FieldSpec{Value: ir.String(raw[p]), Source: origin}
			if _, err := t.defineField(id, p, spec); err != nil {
				return err
			}
		}

		r, _ := t.requirement(id)
		out = r.Clone()
		return nil
	})
	return out, err
}

// ClearReview resets a requirement's needs_review flag after re-validation.
// Clearing an unflagged requirement is a no-op.
func (e *Engine) ClearReview(id string, actor ir.Author) error {
	return e.update("review_clear", actor, func(t *tx) error {
		r, ok := t.requirement(id)
		if !ok {
			return requirementNotFound(id)
		}
		if !r.NeedsReview {
			return nil
		}
		t.mutable(id).NeedsReview = false
		t.emit(ir.EventReviewCleared, ir.Target{Requirement: id}, 0, nil)
		return nil
	})
}
