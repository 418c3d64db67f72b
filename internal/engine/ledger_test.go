package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/ir"
)

// TestScenario_ConflictingPairOnLockedField walks the locked-threshold
// scenario: two divergent proposals conflict, neither can be accepted, and
// rejecting one side does not by default reopen the other.
func TestScenario_ConflictingPairOnLockedField(t *testing.T) {
	e := clinicalEngine(t)

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	assert.Equal(t, ir.StatusOpen, p1.Status)
	assert.Empty(t, p1.Conflicts)

	p2 := mustOpen(t, e, threshold, ir.NewInt(7), bob)
	assert.Equal(t, ir.StatusConflicting, p2.Status)
	require.Len(t, p2.Conflicts, 1)
	assert.Equal(t, ir.ConflictValue, p2.Conflicts[0].Kind)
	assert.Equal(t, p1.ID, p2.Conflicts[0].With)
	assert.Equal(t, ir.StatusConflicting, status(t, e, p1.ID), "counterpart is surfaced too")

	_, err := e.Accept(p1.ID, authority(bob), "")
	assert.True(t, IsWrongStatus(err))

	_, err = e.Reject(p2.ID, authority(bob), "7 is below the clinical floor")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRejected, status(t, e, p2.ID))
	assert.Equal(t, ir.StatusConflicting, status(t, e, p1.ID), "no automatic reopen by default")

	_, err = e.Accept(p1.ID, authority(bob), "")
	assert.ErrorIs(t, err, ErrWrongStatus)

	f, err := e.Read("REQ-001", "ac.threshold")
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.NewInt(5), f.Value), "nothing was applied")
	assert.Equal(t, int64(1), f.Version)
}

func TestScenario_ReopenOnReject(t *testing.T) {
	e := clinicalEngine(t, WithReopenOnReject(true))

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	p2 := mustOpen(t, e, threshold, ir.NewInt(7), bob)

	_, err := e.Reject(p2.ID, authority(bob), "")
	require.NoError(t, err)

	reopened, err := e.Proposal(p1.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusOpen, reopened.Status)
	assert.Empty(t, reopened.Conflicts)

	_, err = e.Accept(p1.ID, authority(bob), "")
	require.NoError(t, err)

	f, err := e.Read("REQ-001", "ac.threshold")
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.NewInt(10), f.Value))
}

func TestReopenOnReject_StaysConflictingWhileOthersRemain(t *testing.T) {
	e := clinicalEngine(t, WithReopenOnReject(true))

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	p2 := mustOpen(t, e, threshold, ir.NewInt(7), bob)
	p3 := mustOpen(t, e, threshold, ir.NewInt(8), bob)

	_, err := e.Reject(p2.ID, authority(bob), "")
	require.NoError(t, err)

	assert.Equal(t, ir.StatusConflicting, status(t, e, p1.ID), "p3 still disagrees")
	assert.Equal(t, ir.StatusConflicting, status(t, e, p3.ID))
}

func TestResubmit(t *testing.T) {
	e := clinicalEngine(t)

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	p2 := mustOpen(t, e, threshold, ir.NewInt(7), bob)
	_, err := e.Reject(p2.ID, authority(bob), "")
	require.NoError(t, err)

	p3, err := e.Resubmit(p1.ID, ir.Change{}, "", alice)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusOpen, p3.Status)
	assert.Equal(t, p1.ID, p3.ResubmittedFrom)
	assert.True(t, p3.Change.Equal(p1.Change), "zero change reuses the old one")

	old, err := e.Proposal(p1.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRejected, old.Status)
	assert.Equal(t, "resubmitted as #3", old.Note)

	_, err = e.Accept(p3.ID, authority(bob), "")
	require.NoError(t, err)
}

func TestResubmit_OnlyAuthor(t *testing.T) {
	e := clinicalEngine(t)
	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)

	_, err := e.Resubmit(p1.ID, ir.Change{}, "", bob)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, ir.StatusOpen, status(t, e, p1.ID))
}

func TestResubmit_ResolvedProposal(t *testing.T) {
	e := clinicalEngine(t)
	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	_, err := e.Accept(p1.ID, authority(bob), "")
	require.NoError(t, err)

	_, err = e.Resubmit(p1.ID, ir.Change{}, "", alice)
	assert.True(t, IsWrongStatus(err))
}

func TestAccept_AppliesValueAndSupersedes(t *testing.T) {
	e := clinicalEngine(t)

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	p2 := mustOpen(t, e, threshold, ir.MustParseNumber("10.0"), bob) // same value
	require.Equal(t, ir.StatusOpen, p2.Status, "equal values do not conflict")

	accepted, err := e.Accept(p1.ID, authority(bob), "approved at review board")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusAccepted, accepted.Status)
	assert.Equal(t, "approved at review board", accepted.Note)
	require.NotNil(t, accepted.Resolver)
	assert.Equal(t, bob, *accepted.Resolver)
	assert.False(t, accepted.ResolvedAt.IsZero())

	f, err := e.Read("REQ-001", "ac.threshold")
	require.NoError(t, err)
	assert.True(t, ir.Equal(accepted.Change.Value, f.Value))
	assert.Equal(t, int64(2), f.Version)
	assert.Equal(t, alice, f.Provenance.Author, "provenance names the proposal author")
	assert.Equal(t, p1.ID, f.Provenance.ProposalID)
	assert.Equal(t, ir.LockLockedHuman, f.Lock, "acceptance keeps the lock")

	superseded, err := e.Proposal(p2.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusSuperseded, superseded.Status)
	assert.Equal(t, "superseded by #1", superseded.Note)

	for _, p := range e.Proposals(threshold) {
		assert.NotEqual(t, ir.StatusOpen, p.Status, "no proposal on the target stays OPEN")
	}
}

func TestAccept_HeadMovesAndHistoryStays(t *testing.T) {
	e := clinicalEngine(t)

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	_, err := e.Accept(p1.ID, authority(bob), "")
	require.NoError(t, err)

	p2 := mustOpen(t, e, threshold, ir.NewInt(12), alice)
	_, err = e.Accept(p2.ID, authority(bob), "")
	require.NoError(t, err)

	head, ok := e.Head(threshold)
	require.True(t, ok)
	assert.Equal(t, p2.ID, head.ID)
	assert.Equal(t, ir.StatusAccepted, status(t, e, p1.ID), "older acceptance stays as history")

	f, err := e.Read("REQ-001", "ac.threshold")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.Version)
}

func TestAccept_VersionStrictlyIncreases(t *testing.T) {
	e := clinicalEngine(t)

	last := int64(1)
	for _, v := range []int64{6, 7, 6, 9} {
		p := mustOpen(t, e, threshold, ir.NewInt(v), alice)
		_, err := e.Accept(p.ID, authority(bob), "")
		require.NoError(t, err)

		f, err := e.Read("REQ-001", "ac.threshold")
		require.NoError(t, err)
		assert.Greater(t, f.Version, last)
		assert.True(t, ir.Equal(ir.NewInt(v), f.Value))
		last = f.Version
	}
}

func TestAccept_UnauthorizedResolver(t *testing.T) {
	e := clinicalEngine(t)
	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	e.DrainEvents()

	_, err := e.Accept(p1.ID, authority(agent), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ir.StatusOpen, status(t, e, p1.ID), "failed accept changes nothing")
	assert.Empty(t, e.DrainEvents())
}

func TestAccept_UnknownProposal(t *testing.T) {
	e := clinicalEngine(t)
	_, err := e.Accept(99, authority(bob), "")
	assert.True(t, IsNotFound(err))
}

func TestReject_WrongStatus(t *testing.T) {
	e := clinicalEngine(t)
	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	_, err := e.Reject(p1.ID, authority(bob), "no")
	require.NoError(t, err)

	_, err = e.Reject(p1.ID, authority(bob), "again")
	assert.True(t, IsWrongStatus(err))

	_, err = e.Accept(p1.ID, authority(bob), "")
	assert.True(t, IsWrongStatus(err), "REJECTED is terminal")
}

func TestOpenProposal_StructuralErrors(t *testing.T) {
	e := clinicalEngine(t)

	tests := []struct {
		name   string
		target ir.Target
		change ir.Change
		author ir.Author
		code   ErrorCode
	}{
		{"unknown requirement", ir.Target{Requirement: "REQ-404", Field: "title"}, valueChange(ir.String("x")), alice, CodeNotFound},
		{"unknown field", ir.Target{Requirement: "REQ-001", Field: "nope"}, valueChange(ir.String("x")), alice, CodeNotFound},
		{"kind mismatch", threshold, valueChange(ir.String("ten")), alice, CodeInvalidValue},
		{"missing value", threshold, ir.Change{}, alice, CodeInvalidValue},
		{"both value and lock", threshold, ir.Change{Value: ir.NewInt(1), Lock: ir.LockOpen}, alice, CodeInvalidValue},
		{"bad lock", threshold, ir.Change{Lock: "LOCKED_ROBOT"}, alice, CodeInvalidValue},
		{"enum option", ir.Target{Requirement: "REQ-001", Field: "safety.classification"}, valueChange(ir.Enum("class_z")), alice, CodeInvalidValue},
		{"no author", threshold, valueChange(ir.NewInt(1)), ir.Author{}, CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.OpenProposal(tt.target, tt.change, "", tt.author)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
	assert.Empty(t, e.Status().Open, "failed opens leave no proposal behind")
}

func TestLockProposal_UnlocksSafetyField(t *testing.T) {
	e := clinicalEngine(t)
	target := ir.Target{Requirement: "REQ-001", Field: "safety.classification"}

	// Direct unlock is forbidden for clinical safety fields.
	err := e.SetLock("REQ-001", "safety.classification", ir.LockOpen, authority(alice))
	require.True(t, IsUnauthorized(err))

	p, err := e.OpenProposal(target, ir.Change{Lock: ir.LockOpen}, "reclassification study", alice)
	require.NoError(t, err)
	require.Equal(t, ir.StatusOpen, p.Status)

	_, err = e.Accept(p.ID, authority(agent), "")
	assert.True(t, IsUnauthorized(err), "AI cannot accept on a human-resolved field")

	_, err = e.Accept(p.ID, authority(bob), "")
	require.NoError(t, err)

	f, err := e.Read("REQ-001", "safety.classification")
	require.NoError(t, err)
	assert.Equal(t, ir.LockOpen, f.Lock)
	assert.Equal(t, int64(2), f.Version)
	assert.Equal(t, alice, f.Provenance.Author, "lock change leaves value provenance alone")
}

func TestLockAndValueProposalsDoNotConflict(t *testing.T) {
	e := clinicalEngine(t)

	p1 := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	p2, err := e.OpenProposal(threshold, ir.Change{Lock: ir.LockOpen}, "", bob)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusOpen, p2.Status)
	assert.Equal(t, ir.StatusOpen, status(t, e, p1.ID))
}

func TestProposalIDsAreMonotonic(t *testing.T) {
	e := clinicalEngine(t)
	var last ir.ProposalID
	for i := range 5 {
		p := mustOpen(t, e, threshold, ir.NewInt(int64(10+i)), alice)
		assert.Greater(t, p.ID, last)
		last = p.ID
	}
}

func TestFailedOpenDoesNotConsumeID(t *testing.T) {
	e := clinicalEngine(t)
	_, err := e.OpenProposal(threshold, valueChange(ir.String("bad")), "", alice)
	require.Error(t, err)

	p := mustOpen(t, e, threshold, ir.NewInt(10), alice)
	assert.Equal(t, ir.ProposalID(1), p.ID)
}

func TestRejectNeedsKnownResolver(t *testing.T) {
	e := clinicalEngine(t)
	p := mustOpen(t, e, threshold, ir.NewInt(10), alice)

	_, err := e.Reject(p.ID, ir.Authority{}, "")
	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, CodeUnauthorized, engErr.Code)
	assert.Equal(t, p.ID, engErr.Proposal)
}
