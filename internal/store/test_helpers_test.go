package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/testutil"
)

// createTestStore creates a new journal in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testActor = ir.Author{ID: "alice", Kind: ir.AuthorHuman}

// createTestBatch creates a batch with a predictable ID.
func createTestBatch(ids *testutil.SequenceIDs, command string) Batch {
	return NewBatch(ids, command, testActor, testutil.Epoch)
}

// createTestEvent creates a field.written event with minimal required fields.
func createTestEvent(seq int64, requirement string, proposal ir.ProposalID) ir.Event {
	return ir.Event{
		Seq:         seq,
		Kind:        ir.EventFieldWritten,
		Requirement: requirement,
		Field:       "ac.threshold",
		Proposal:    proposal,
		Actor:       testActor,
		At:          testutil.Epoch.Add(time.Duration(seq) * time.Second),
		Data:        map[string]any{"value": ir.NewInt(seq), "version": seq + 1},
	}
}
