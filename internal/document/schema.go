package document

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaCUE string

// Schema definitions a document can be checked against.
const (
	DefRequirement = "#Requirement"
	DefProposal    = "#Proposal"
	DefProject     = "#Project"
)

// Checker validates YAML documents against the embedded CUE schema.
//
// Thread-safety: a CUE context is not safe for concurrent use, so Check
// serializes callers.
type Checker struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewChecker compiles the embedded schema.
func NewChecker() (*Checker, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Checker{ctx: ctx, schema: schema}, nil
}

// Check validates one YAML document against a schema definition and returns
// every finding with its file position. data must hold a single document.
func (c *Checker) Check(filename string, data []byte, def string) []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	schema := c.schema.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return []Diagnostic{{File: filename, Code: DiagSchema, Message: fmt.Sprintf("unknown schema definition %s", def)}}
	}

	f, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fromCUEError(filename, DiagParse, err)
	}
	v := c.ctx.BuildFile(f)
	if err := v.Err(); err != nil {
		return fromCUEError(filename, DiagParse, err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fromCUEError(filename, DiagSchema, err)
	}
	return nil
}

// fromCUEError flattens a CUE error list into diagnostics, one per error,
// using the first position inside the checked file.
func fromCUEError(filename, code string, err error) []Diagnostic {
	var diags []Diagnostic
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		d := Diagnostic{File: filename, Code: code, Message: fmt.Sprintf(format, args...)}
		if path := e.Path(); len(path) > 0 {
			d.Message = strings.Join(path, ".") + ": " + d.Message
		}
		for _, pos := range errors.Positions(e) {
			if pos.Filename() == filename {
				d.Line, d.Column = pos.Line(), pos.Column()
				break
			}
		}
		diags = append(diags, d)
	}
	if len(diags) == 0 {
		diags = append(diags, Diagnostic{File: filename, Code: code, Message: err.Error()})
	}
	sortDiagnostics(diags)
	return diags
}
