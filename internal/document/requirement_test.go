package document

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/testutil"
)

func TestDecodeRequirement(t *testing.T) {
	r, diags := DecodeRequirement("req.gal", []byte(validGal))
	require.Empty(t, diags)

	assert.Equal(t, "REQ-001", r.ID)
	assert.Equal(t, ir.DomainClinical, r.Domain)
	assert.True(t, r.NeedsReview)
	assert.Equal(t, []ir.TraceEdge{{Kind: ir.EdgeDependsOn, Target: "REQ-000"}}, r.Traces)
	require.Len(t, r.Fields, 3)

	title := r.Fields["title"]
	assert.Equal(t, ir.String("Dose limit"), title.Value)
	assert.Equal(t, ir.LockOpen, title.Lock)
	assert.Equal(t, int64(1), title.Version)

	threshold := r.Fields["ac.threshold"]
	assert.Equal(t, ir.NewInt(5), threshold.Value)
	assert.Equal(t, ir.LockLockedHuman, threshold.Lock)
	assert.Equal(t, ir.Provenance{
		Author:     ir.Author{ID: "alice", Kind: ir.AuthorHuman},
		At:         testutil.Epoch,
		ProposalID: 2,
	}, threshold.Provenance)

	severity := r.Fields["severity"]
	assert.Equal(t, ir.Enum("high"), severity.Value)
	assert.Equal(t, []string{"low", "high"}, severity.Options)
}

// fieldDocument wraps one field body in an otherwise valid document.
func fieldDocument(body string) []byte {
	return []byte(fmt.Sprintf("id: REQ-001\ndomain: general\nfields:\n  f:\n%s    lock: OPEN\n    version: 1\n", body))
}

func TestDecodeRequirement_ValueKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ir.Value
	}{
		{"plain string", "    value: hello\n", ir.String("hello")},
		{"integer", "    value: 5\n", ir.NewInt(5)},
		{"decimal keeps exact digits", "    value: 2.50\n", ir.MustParseNumber("2.5")},
		{"negative", "    value: -0.125\n", ir.MustParseNumber("-0.125")},
		{"boolean", "    value: true\n", ir.Bool(true)},
		{"quoted boolean is a string", "    value: \"true\"\n", ir.String("true")},
		{"explicit kind overrides tag", "    kind: string\n    value: 5\n", ir.String("5")},
		{"explicit number from string", "    kind: number\n    value: \"12.0\"\n", ir.NewInt(12)},
		{"options make an enum", "    value: low\n    options: [low, high]\n", ir.Enum("low")},
		{"explicit enum", "    kind: enum\n    value: class_b\n", ir.Enum("class_b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, diags := DecodeRequirement("f.gal", fieldDocument(tt.body))
			require.Empty(t, diags)
			assert.Equal(t, tt.want, r.Fields["f"].Value)
		})
	}
}

func TestDecodeRequirement_ValueErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		contain string
	}{
		{"exponent", "    value: 1e3\n", "invalid decimal"},
		{"null", "    value: null\n", "unsupported value"},
		{"mapping", "    value: {a: 1}\n", "scalar"},
		{"bad boolean", "    kind: boolean\n    value: maybe\n", "invalid boolean"},
		{"bad provenance time", "    value: x\n    provenance:\n      author: {id: a, kind: human}\n      at: yesterday\n", "provenance.at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, diags := DecodeRequirement("f.gal", fieldDocument(tt.body))
			assert.Nil(t, r)
			require.Len(t, diags, 1)
			assert.Equal(t, DiagValue, diags[0].Code)
			assert.Contains(t, diags[0].Message, "fields.f")
			assert.Contains(t, diags[0].Message, tt.contain)
		})
	}
}

func TestDecodeRequirement_ValueErrorPosition(t *testing.T) {
	_, diags := DecodeRequirement("f.gal", fieldDocument("    value: 1e3\n"))
	require.Len(t, diags, 1)
	assert.Equal(t, 5, diags[0].Line)
	assert.Equal(t, 12, diags[0].Column)
}

func TestDecodeRequirement_BadYAML(t *testing.T) {
	_, diags := DecodeRequirement("f.gal", []byte("fields: [\n"))
	require.Len(t, diags, 1)
	assert.Equal(t, DiagParse, diags[0].Code)
}

func sampleRequirement() *ir.Requirement {
	alice := ir.Author{ID: "alice", Kind: ir.AuthorHuman}
	return &ir.Requirement{
		ID:          "REQ-007",
		Domain:      ir.DomainAerospace,
		Source:      "jira:ABC-7",
		NeedsReview: true,
		Fields: map[string]*ir.Field{
			"title": {
				Value:      ir.String("Altitude hold"),
				Lock:       ir.LockOpen,
				Version:    2,
				Provenance: ir.Provenance{Author: alice, At: testutil.Epoch, Source: "jira:ABC-7"},
			},
			"statement": {
				Value:      ir.String("true"),
				Lock:       ir.LockLockedAI,
				Version:    1,
				Provenance: ir.Provenance{Author: ir.Author{ID: "gpt", Kind: ir.AuthorAI}, At: testutil.Epoch.Add(time.Second)},
			},
			"safety.dal": {
				Value:      ir.Enum("A"),
				Lock:       ir.LockLockedHuman,
				Version:    4,
				Options:    []string{"A", "B", "C"},
				Provenance: ir.Provenance{Author: alice, At: testutil.Epoch, ProposalID: 9},
			},
			"ac.tolerance": {
				Value:   ir.MustParseNumber("0.25"),
				Lock:    ir.LockOpen,
				Version: 1,
			},
			"ac.enabled": {
				Value:   ir.Bool(false),
				Lock:    ir.LockOpen,
				Version: 1,
			},
		},
		Traces: []ir.TraceEdge{
			{Kind: ir.EdgeDerivedFrom, Target: "SYS-001"},
			{Kind: ir.EdgeConflictsWith, Target: "REQ-008"},
		},
	}
}

func TestEncodeRequirement_RoundTrip(t *testing.T) {
	want := sampleRequirement()

	data, err := EncodeRequirement(want)
	require.NoError(t, err)

	c := newTestChecker(t)
	require.Empty(t, c.Check("REQ-007.gal", data, DefRequirement), string(data))

	got, diags := DecodeRequirement("REQ-007.gal", data)
	require.Empty(t, diags)
	assert.Equal(t, want, got)
}

func TestEncodeRequirement_Deterministic(t *testing.T) {
	a, err := EncodeRequirement(sampleRequirement())
	require.NoError(t, err)
	b, err := EncodeRequirement(sampleRequirement())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestEncodeRequirement_Texture(t *testing.T) {
	data, err := EncodeRequirement(sampleRequirement())
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `value: "true"`, "strings that read as booleans are quoted")
	assert.Contains(t, out, "kind: enum")
	assert.Contains(t, out, "options: [A, B, C]")
	assert.Contains(t, out, "value: 0.25")
	assert.NotContains(t, out, "kind: string")
}

func TestEncodeRequirement_NilValue(t *testing.T) {
	r := sampleRequirement()
	r.Fields["notes"] = &ir.Field{Lock: ir.LockOpen, Version: 1}
	_, err := EncodeRequirement(r)
	assert.ErrorContains(t, err, "REQ-007:notes")
}
