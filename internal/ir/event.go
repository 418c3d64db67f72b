package ir

import "time"

// EventKind names a committed mutation.
type EventKind string

const (
	EventRequirementCreated  EventKind = "requirement.created"
	EventRequirementRemoved  EventKind = "requirement.removed"
	EventFieldDefined        EventKind = "field.defined"
	EventFieldWritten        EventKind = "field.written"
	EventLockChanged         EventKind = "field.lock_changed"
	EventEdgeAdded           EventKind = "edge.added"
	EventEdgeRemoved         EventKind = "edge.removed"
	EventProposalOpened      EventKind = "proposal.opened"
	EventProposalAccepted    EventKind = "proposal.accepted"
	EventProposalRejected    EventKind = "proposal.rejected"
	EventProposalSuperseded  EventKind = "proposal.superseded"
	EventProposalConflicting EventKind = "proposal.conflicting"
	EventProposalReopened    EventKind = "proposal.reopened"
	EventReviewFlagged       EventKind = "review.flagged"
	EventReviewCleared       EventKind = "review.cleared"
)

// Event is the record of one committed mutation. Events are emitted only
// after a mutation commits; a failed mutation emits nothing.
//
// Data holds kind-specific details and must contain only values that
// MarshalCanonical accepts (strings, ints, bools, Values, nested maps/slices).
type Event struct {
	Seq         int64          `json:"seq"` // Logical clock
	Kind        EventKind      `json:"kind"`
	Requirement string         `json:"requirement,omitempty"`
	Field       string         `json:"field,omitempty"`
	Proposal    ProposalID     `json:"proposal,omitempty"`
	Actor       Author         `json:"actor"`
	At          time.Time      `json:"at"`
	Data        map[string]any `json:"data,omitempty"`
}
