package harness

// Trace entry types.
const (
	TraceStep  = "step"
	TraceEvent = "event"
)

// TraceEntry is one line of a scenario trace: either a step the scenario
// ran, or an event the engine committed and the journal recorded.
type TraceEntry struct {
	Type string `json:"type"` // "step" or "event"

	// Step fields.
	Action  string         `json:"action,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome,omitempty"` // "ok" or the engine error code

	// Event fields, as read back from the journal.
	Seq         int64          `json:"seq,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Requirement string         `json:"requirement,omitempty"`
	Field       string         `json:"field,omitempty"`
	Proposal    int64          `json:"proposal,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and the events each produced, in order.
	Trace []TraceEntry `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace records a step.
func (r *Result) AddStepTrace(action, actor string, args map[string]any, outcome string) {
	r.Trace = append(r.Trace, TraceEntry{
		Type:    TraceStep,
		Action:  action,
		Actor:   actor,
		Args:    args,
		Outcome: outcome,
	})
}

// Events returns the event entries of the trace.
func (r *Result) Events() []TraceEntry {
	var events []TraceEntry
	for _, e := range r.Trace {
		if e.Type == TraceEvent {
			events = append(events, e)
		}
	}
	return events
}
