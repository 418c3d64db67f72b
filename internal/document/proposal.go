package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/galed/internal/ir"
)

type proposalDoc struct {
	ID              int64         `yaml:"id"`
	Target          string        `yaml:"target"`
	Change          changeDoc     `yaml:"change"`
	Rationale       string        `yaml:"rationale,omitempty"`
	Author          authorDoc     `yaml:"author"`
	Status          string        `yaml:"status"`
	CreatedAt       string        `yaml:"created_at"`
	ResolvedAt      string        `yaml:"resolved_at,omitempty"`
	Resolver        *authorDoc    `yaml:"resolver,omitempty"`
	Note            string        `yaml:"note,omitempty"`
	Conflicts       []conflictDoc `yaml:"conflicts,omitempty"`
	ResubmittedFrom int64         `yaml:"resubmitted_from,omitempty"`
}

type changeDoc struct {
	Kind  ir.Kind      `yaml:"kind,omitempty"`
	Value *yaml.Node   `yaml:"value,omitempty"`
	Lock  ir.LockState `yaml:"lock,omitempty"`
}

type conflictDoc struct {
	Kind    ir.ConflictKind `yaml:"kind"`
	With    int64           `yaml:"with,omitempty"`
	Target  string          `yaml:"target"`
	Message string          `yaml:"message,omitempty"`
}

// DecodeProposalLog reads the proposal log: a stream of YAML documents, one
// proposal record each. Records are folded by ID with the last record for an
// ID winning, so a resolved proposal's later record replaces its opening
// record. Results are sorted by ID.
//
// When c is non-nil every record is also checked against the proposal
// schema. Diagnostics carry the line where the offending record starts.
func DecodeProposalLog(filename string, data []byte, c *Checker) ([]*ir.Proposal, []Diagnostic) {
	var (
		diags  []Diagnostic
		folded = make(map[ir.ProposalID]*ir.Proposal)
	)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// the stream cannot be resynchronised after a syntax error
			diags = append(diags, Diagnostic{File: filename, Code: DiagParse, Message: err.Error()})
			break
		}
		line := node.Line
		if len(node.Content) > 0 {
			line = node.Content[0].Line
		}

		if c != nil {
			raw, err := yaml.Marshal(&node)
			if err == nil {
				for _, d := range c.Check(filename, raw, DefProposal) {
					d.Line, d.Column = line, 0
					diags = append(diags, d)
				}
			}
		}

		var doc proposalDoc
		if err := node.Decode(&doc); err != nil {
			diags = append(diags, Diagnostic{File: filename, Line: line, Code: DiagLog, Message: err.Error()})
			continue
		}
		p, err := decodeProposal(doc)
		if err != nil {
			diags = append(diags, Diagnostic{File: filename, Line: line, Code: DiagLog, Message: fmt.Sprintf("proposal #%d: %v", doc.ID, err)})
			continue
		}
		folded[p.ID] = p
	}

	out := make([]*ir.Proposal, 0, len(folded))
	for _, id := range slices.Sorted(maps.Keys(folded)) {
		out = append(out, folded[id])
	}
	sortDiagnostics(diags)
	return out, diags
}

func decodeProposal(doc proposalDoc) (*ir.Proposal, error) {
	target, err := ParseTarget(doc.Target)
	if err != nil {
		return nil, err
	}
	p := &ir.Proposal{
		ID:              ir.ProposalID(doc.ID),
		Target:          target,
		Rationale:       doc.Rationale,
		Author:          ir.Author{ID: doc.Author.ID, Kind: doc.Author.Kind},
		Status:          ir.ProposalStatus(doc.Status),
		Note:            doc.Note,
		ResubmittedFrom: ir.ProposalID(doc.ResubmittedFrom),
	}
	if doc.Change.Value != nil {
		v, err := decodeValue(doc.Change.Kind, false, doc.Change.Value)
		if err != nil {
			return nil, fmt.Errorf("change.value: %w", err)
		}
		p.Change.Value = v
	}
	p.Change.Lock = doc.Change.Lock

	if p.CreatedAt, err = parseTimestamp(doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if p.ResolvedAt, err = parseTimestamp(doc.ResolvedAt); err != nil {
		return nil, fmt.Errorf("resolved_at: %w", err)
	}
	if doc.Resolver != nil {
		p.Resolver = &ir.Author{ID: doc.Resolver.ID, Kind: doc.Resolver.Kind}
	}
	for _, c := range doc.Conflicts {
		t, err := ParseTarget(c.Target)
		if err != nil {
			return nil, fmt.Errorf("conflicts: %w", err)
		}
		p.Conflicts = append(p.Conflicts, ir.Conflict{Kind: c.Kind, With: ir.ProposalID(c.With), Target: t, Message: c.Message})
	}
	return p, nil
}

// EncodeProposal renders one proposal record as a YAML document, starting
// with a document marker so records can be appended to an existing log.
func EncodeProposal(p *ir.Proposal) ([]byte, error) {
	doc := proposalDoc{
		ID:              int64(p.ID),
		Target:          p.Target.String(),
		Change:          changeDoc{Lock: p.Change.Lock},
		Rationale:       p.Rationale,
		Author:          authorDoc{ID: p.Author.ID, Kind: p.Author.Kind},
		Status:          string(p.Status),
		CreatedAt:       formatTimestamp(p.CreatedAt),
		ResolvedAt:      formatTimestamp(p.ResolvedAt),
		Note:            p.Note,
		ResubmittedFrom: int64(p.ResubmittedFrom),
	}
	if v := p.Change.Value; v != nil {
		n := encodeValue(v)
		doc.Change.Kind = v.Kind()
		doc.Change.Value = &n
	}
	if p.Resolver != nil {
		doc.Resolver = &authorDoc{ID: p.Resolver.ID, Kind: p.Resolver.Kind}
	}
	for _, c := range p.Conflicts {
		doc.Conflicts = append(doc.Conflicts, conflictDoc{Kind: c.Kind, With: int64(c.With), Target: c.Target.String(), Message: c.Message})
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	return buf.Bytes(), nil
}

// ParseTarget parses "REQ-001:ac.threshold" into a target.
func ParseTarget(s string) (ir.Target, error) {
	req, field, ok := strings.Cut(s, ":")
	if !ok || req == "" || field == "" {
		return ir.Target{}, fmt.Errorf("invalid target %q: want REQUIREMENT:FIELD", s)
	}
	return ir.Target{Requirement: req, Field: field}, nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
