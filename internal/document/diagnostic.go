package document

import (
	"cmp"
	"fmt"
	"slices"
)

// Document diagnostic codes (E300-E399)
const (
	DiagParse     = "E300" // YAML does not parse
	DiagSchema    = "E301" // document does not match the CUE schema
	DiagValue     = "E302" // field value does not decode as its kind
	DiagDuplicate = "E303" // requirement ID defined in more than one file
	DiagLog       = "E304" // proposal log record is malformed
)

// Diagnostic is a problem found while reading a document, located by file
// and (when known) line and column.
type Diagnostic struct {
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.File, d.Code, d.Message)
}

func sortDiagnostics(ds []Diagnostic) {
	slices.SortStableFunc(ds, func(a, b Diagnostic) int {
		return cmp.Or(
			cmp.Compare(a.File, b.File),
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Code, b.Code),
		)
	})
}
