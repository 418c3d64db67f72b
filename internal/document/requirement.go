package document

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/galed/internal/ir"
)

// requirementDoc is the on-disk shape of a .gal file.
type requirementDoc struct {
	ID          string              `yaml:"id"`
	Domain      ir.Domain           `yaml:"domain"`
	Source      string              `yaml:"source,omitempty"`
	NeedsReview bool                `yaml:"needs_review,omitempty"`
	Fields      map[string]fieldDoc `yaml:"fields"`
	Traces      []traceDoc          `yaml:"traces,omitempty"`
}

type fieldDoc struct {
	Kind       ir.Kind        `yaml:"kind,omitempty"`
	Value      yaml.Node      `yaml:"value"`
	Lock       ir.LockState   `yaml:"lock"`
	Version    int64          `yaml:"version"`
	Options    []string       `yaml:"options,omitempty,flow"`
	Provenance *provenanceDoc `yaml:"provenance,omitempty"`
}

type provenanceDoc struct {
	Author   authorDoc `yaml:"author"`
	At       string    `yaml:"at,omitempty"`
	Proposal int64     `yaml:"proposal,omitempty"`
	Source   string    `yaml:"source,omitempty"`
}

type authorDoc struct {
	ID   string        `yaml:"id"`
	Kind ir.AuthorKind `yaml:"kind"`
}

type traceDoc struct {
	Kind   ir.EdgeKind `yaml:"kind"`
	Target string      `yaml:"target"`
}

// DecodeRequirement parses one .gal document. Field values take their kind
// from an explicit kind key when present, otherwise from the YAML scalar
// tag; a field with options and no kind is an enum.
//
// Returns every value problem found, not only the first. The requirement is
// nil when any diagnostic was produced.
func DecodeRequirement(filename string, data []byte) (*ir.Requirement, []Diagnostic) {
	var doc requirementDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []Diagnostic{{File: filename, Code: DiagParse, Message: err.Error()}}
	}

	r := &ir.Requirement{
		ID:          doc.ID,
		Domain:      doc.Domain,
		Source:      doc.Source,
		NeedsReview: doc.NeedsReview,
		Fields:      make(map[string]*ir.Field, len(doc.Fields)),
	}
	for _, t := range doc.Traces {
		r.Traces = append(r.Traces, ir.TraceEdge{Kind: t.Kind, Target: t.Target})
	}

	var diags []Diagnostic
	for path, fd := range doc.Fields {
		f, err := decodeField(fd)
		if err != nil {
			diags = append(diags, Diagnostic{
				File:    filename,
				Line:    fd.Value.Line,
				Column:  fd.Value.Column,
				Code:    DiagValue,
				Message: fmt.Sprintf("fields.%s: %v", path, err),
			})
			continue
		}
		r.Fields[path] = f
	}
	if len(diags) > 0 {
		sortDiagnostics(diags)
		return nil, diags
	}
	return r, nil
}

func decodeField(fd fieldDoc) (*ir.Field, error) {
	v, err := decodeValue(fd.Kind, len(fd.Options) > 0, &fd.Value)
	if err != nil {
		return nil, err
	}
	f := &ir.Field{
		Value:   v,
		Lock:    fd.Lock,
		Version: fd.Version,
		Options: fd.Options,
	}
	if p := fd.Provenance; p != nil {
		f.Provenance = ir.Provenance{
			Author:     ir.Author{ID: p.Author.ID, Kind: p.Author.Kind},
			ProposalID: ir.ProposalID(p.Proposal),
			Source:     p.Source,
		}
		if f.Provenance.At, err = parseTimestamp(p.At); err != nil {
			return nil, fmt.Errorf("provenance.at: %w", err)
		}
	}
	return f, nil
}

// decodeValue turns a YAML scalar into a typed value.
func decodeValue(kind ir.Kind, hasOptions bool, n *yaml.Node) (ir.Value, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("value must be a scalar")
	}
	if kind == "" {
		switch {
		case hasOptions:
			kind = ir.KindEnum
		case n.ShortTag() == "!!bool":
			kind = ir.KindBool
		case n.ShortTag() == "!!int", n.ShortTag() == "!!float":
			kind = ir.KindNumber
		case n.ShortTag() == "!!str":
			kind = ir.KindString
		default:
			return nil, fmt.Errorf("unsupported value %q (%s)", n.Value, n.ShortTag())
		}
	}
	return ir.ParseValue(kind, n.Value)
}

// EncodeRequirement renders a requirement as a .gal document. Map keys are
// sorted, so equal requirements always encode to identical bytes.
func EncodeRequirement(r *ir.Requirement) ([]byte, error) {
	doc := requirementDoc{
		ID:          r.ID,
		Domain:      r.Domain,
		Source:      r.Source,
		NeedsReview: r.NeedsReview,
		Fields:      make(map[string]fieldDoc, len(r.Fields)),
	}
	for _, t := range r.Traces {
		doc.Traces = append(doc.Traces, traceDoc{Kind: t.Kind, Target: t.Target})
	}
	for path, f := range r.Fields {
		if f.Value == nil {
			return nil, fmt.Errorf("encode %s:%s: field has no value", r.ID, path)
		}
		fd := fieldDoc{
			Value:   encodeValue(f.Value),
			Lock:    f.Lock,
			Version: f.Version,
			Options: f.Options,
		}
		if f.Value.Kind() == ir.KindEnum {
			fd.Kind = ir.KindEnum
		}
		if p := f.Provenance; p.Author.ID != "" {
			fd.Provenance = &provenanceDoc{
				Author:   authorDoc{ID: p.Author.ID, Kind: p.Author.Kind},
				Proposal: int64(p.ProposalID),
				At:       formatTimestamp(p.At),
				Source:   p.Source,
			}
		}
		doc.Fields[path] = fd
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}

// encodeValue renders a value as a tagged scalar. Strings that would read
// back as another type are quoted by the encoder.
func encodeValue(v ir.Value) yaml.Node {
	n := yaml.Node{Kind: yaml.ScalarNode, Value: v.Text()}
	switch v.Kind() {
	case ir.KindBool:
		n.Tag = "!!bool"
	case ir.KindNumber:
		n.Tag = "!!int"
		if bytes.ContainsRune([]byte(n.Value), '.') {
			n.Tag = "!!float"
		}
	default:
		n.Tag = "!!str"
	}
	return n
}
