package ir

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind names the type of a field value.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "boolean"
	KindEnum   Kind = "enum"
)

// ValidKinds defines allowed field value kinds.
var ValidKinds = map[Kind]bool{
	KindString: true,
	KindNumber: true,
	KindBool:   true,
	KindEnum:   true,
}

// Value is a sealed interface representing typed field values.
// Only String, Number, Bool, and Enum implement this.
// NO float type - numbers are exact decimals so that equality is exact.
type Value interface {
	Kind() Kind
	// Text returns the canonical textual form of the value.
	Text() string
	value() // Sealed
}

// String is a free-text field value.
type String string

func (String) value()         {}
func (String) Kind() Kind     { return KindString }
func (s String) Text() string { return norm.NFC.String(string(s)) }

// Bool is a boolean field value.
type Bool bool

func (Bool) value()         {}
func (Bool) Kind() Kind     { return KindBool }
func (b Bool) Text() string { return strconv.FormatBool(bool(b)) }

// Enum is a symbolic field value drawn from the field's option list.
type Enum string

func (Enum) value()         {}
func (Enum) Kind() Kind     { return KindEnum }
func (e Enum) Text() string { return string(e) }

// Number is an exact decimal field value.
// The zero Number is 0. Construct with ParseNumber or NewInt.
type Number struct {
	text string // canonical decimal: no leading zeros, no trailing fraction zeros, no "-0"
}

func (Number) value()     {}
func (Number) Kind() Kind { return KindNumber }

// Text returns the canonical decimal text.
func (n Number) Text() string {
	if n.text == "" {
		return "0"
	}
	return n.text
}

// MarshalJSON encodes the number as a JSON number without float conversion.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.Text()), nil
}

var decimalPattern = regexp.MustCompile(`^([+-]?)(\d+)(?:\.(\d+))?$`)

// ParseNumber parses a decimal literal ("5", "-0.250", "+12.0") into
// canonical form. Exponents, fractions and non-finite values are rejected.
func ParseNumber(s string) (Number, error) {
	m := decimalPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Number{}, fmt.Errorf("invalid decimal %q", s)
	}
	sign, whole, frac := m[1], strings.TrimLeft(m[2], "0"), strings.TrimRight(m[3], "0")
	if whole == "" {
		whole = "0"
	}
	text := whole
	if frac != "" {
		text += "." + frac
	}
	if sign == "-" && text != "0" {
		text = "-" + text
	}
	return Number{text: text}, nil
}

// MustParseNumber is like ParseNumber but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseNumber(s string) Number {
	n, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

// NewInt creates a Number from an integer.
func NewInt(i int64) Number {
	return Number{text: strconv.FormatInt(i, 10)}
}

// ParseValue parses raw text as a value of the given kind.
// Enum membership is not checked here; see Field.Accepts.
func ParseValue(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindString:
		return String(raw), nil
	case KindNumber:
		return ParseNumber(raw)
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return Bool(b), nil
	case KindEnum:
		sym := strings.TrimSpace(raw)
		if sym == "" {
			return nil, fmt.Errorf("empty enum symbol")
		}
		return Enum(sym), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}

// Equal reports whether two values are the same kind with identical
// canonical text. Two nil values are equal; nil never equals a non-nil value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.Text() == b.Text()
}

// FormatValue renders a value for human-readable output.
func FormatValue(v Value) string {
	if v == nil {
		return "<nil>"
	}
	if v.Kind() == KindString {
		return strconv.Quote(v.Text())
	}
	return v.Text()
}
