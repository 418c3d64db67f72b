package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/galed/internal/ir"
)

// Scenario defines a conformance scenario: a sequence of engine operations
// with expected outcomes, plus assertions over the resulting event trace
// and final store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Domain is the default domain for created requirements.
	// Defaults to general.
	Domain ir.Domain `yaml:"domain,omitempty"`

	// Rules is an optional rules.yaml replacing the built-in rule table.
	// Relative paths are resolved against the scenario file.
	Rules string `yaml:"rules,omitempty"`

	// ReopenOnReject enables returning counterparts to OPEN when one side
	// of a conflict is rejected.
	ReopenOnReject bool `yaml:"reopen_on_reject,omitempty"`

	// ImpactOnDirectWrite runs impact propagation after direct writes.
	ImpactOnDirectWrite bool `yaml:"impact_on_direct_write,omitempty"`

	// Setup establishes the initial store. Setup steps must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence; each step may carry an expect clause.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and store.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one engine operation.
type Step struct {
	// Action names the operation: create, define, link, unlink, write,
	// lock, propose, accept, reject, resubmit, remove, import,
	// clear_review or propagate.
	Action string `yaml:"action"`

	// As is the acting author as "id(kind)", e.g. "gpt(ai)".
	// Defaults to harness(human).
	As string `yaml:"as,omitempty"`

	// Args are the operation's arguments.
	Args map[string]any `yaml:"args"`

	// Expect specifies the expected outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a flow step.
type ExpectClause struct {
	// Error is the expected engine error code (e.g. "WRONG_STATUS").
	// Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Status is the expected status of the proposal a step returns.
	Status ir.ProposalStatus `yaml:"status,omitempty"`

	// Conflicts are the expected conflict kinds on the returned proposal,
	// in detection order. Only checked when non-nil; an empty list asserts
	// no conflicts.
	Conflicts []ir.ConflictKind `yaml:"conflicts,omitempty"`

	// Flagged are the requirement IDs a propagate step is expected to flag.
	Flagged []string `yaml:"flagged,omitempty"`
}

// Assertion validates the trace or the final store.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Kind matching Where is in the trace
	// - "trace_order": events of Kinds appear in order
	// - "trace_count": exactly Count events of Kind (matching Where)
	// - "final_state": a requirement, field or proposal has Expect values
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Where filters events by requirement, field, proposal, actor or any
	// data key. Subset match.
	Where map[string]any `yaml:"where,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected event kind order (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Requirement, Field and Proposal select the final_state subject.
	Requirement string `yaml:"requirement,omitempty"`
	Field       string `yaml:"field,omitempty"`
	Proposal    int64  `yaml:"proposal,omitempty"`

	// Expect contains expected attribute values (final_state).
	// Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Step actions.
const (
	ActionCreate      = "create"
	ActionDefine      = "define"
	ActionLink        = "link"
	ActionUnlink      = "unlink"
	ActionWrite       = "write"
	ActionLock        = "lock"
	ActionPropose     = "propose"
	ActionAccept      = "accept"
	ActionReject      = "reject"
	ActionResubmit    = "resubmit"
	ActionRemove      = "remove"
	ActionImport      = "import"
	ActionClearReview = "clear_review"
	ActionPropagate   = "propagate"
)

var validActions = map[string]bool{
	ActionCreate: true, ActionDefine: true, ActionLink: true, ActionUnlink: true,
	ActionWrite: true, ActionLock: true, ActionPropose: true, ActionAccept: true,
	ActionReject: true, ActionResubmit: true, ActionRemove: true, ActionImport: true,
	ActionClearReview: true, ActionPropagate: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve the rules path relative to the scenario file.
	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
		scenario.Rules = filepath.Join(filepath.Dir(path), scenario.Rules)
	}
	if scenario.Rules != "" {
		if _, err := os.Stat(scenario.Rules); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: rules file not found: %s", scenario.Rules)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Domain == "" {
		scenario.Domain = ir.DomainGeneral
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !ir.ValidDomains[s.Domain] {
		return fmt.Errorf("unknown domain %q", s.Domain)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step) error {
	if step.Action == "" {
		return fmt.Errorf("%s: action is required", where)
	}
	if !validActions[step.Action] {
		return fmt.Errorf("%s: unknown action %q", where, step.Action)
	}
	if step.Args == nil {
		return fmt.Errorf("%s: args is required (use empty map if no args)", where)
	}
	if step.As != "" {
		if _, err := parseAuthor(step.As); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Requirement == "" && a.Proposal == 0 {
			return fmt.Errorf("assertions[%d]: requirement or proposal is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// defaultActor acts for steps without an "as" author.
var defaultActor = ir.Author{ID: "harness", Kind: ir.AuthorHuman}

// parseAuthor parses "id(kind)"; a bare "id" is a human.
func parseAuthor(s string) (ir.Author, error) {
	if s == "" {
		return defaultActor, nil
	}
	id, rest, ok := strings.Cut(s, "(")
	if !ok {
		return ir.Author{ID: s, Kind: ir.AuthorHuman}, nil
	}
	kind := ir.AuthorKind(strings.TrimSuffix(rest, ")"))
	if id == "" || !strings.HasSuffix(rest, ")") || !ir.ValidAuthorKinds[kind] {
		return ir.Author{}, fmt.Errorf("invalid author %q: want id or id(human|ai)", s)
	}
	return ir.Author{ID: id, Kind: kind}, nil
}
