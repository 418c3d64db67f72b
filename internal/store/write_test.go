package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/testutil"
)

func TestAppend_ChainsHashes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := testutil.NewSequenceIDs("")

	require.NoError(t, s.Append(ctx, createTestBatch(ids, "propose"), []ir.Event{
		createTestEvent(1, "REQ-001", 1),
		createTestEvent(2, "REQ-001", 1),
	}))
	require.NoError(t, s.Append(ctx, createTestBatch(ids, "accept"), []ir.Event{
		createTestEvent(3, "REQ-002", 0),
	}))

	entries, err := s.Events(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "", entries[0].PrevHash, "the first event has no predecessor")
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash, "the chain crosses batches")
	assert.Equal(t, "batch-0001", entries[1].Batch)
	assert.Equal(t, "batch-0002", entries[2].Batch)

	want, err := ir.EventHash(entries[1].Hash, createTestEvent(3, "REQ-002", 0))
	require.NoError(t, err)
	assert.Equal(t, want, entries[2].Hash)

	seq, hash, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
	assert.Equal(t, entries[2].Hash, hash)
}

func TestAppend_Empty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, createTestBatch(testutil.NewSequenceIDs(""), "status"), nil))

	_, err := s.ReadBatch(ctx, "batch-0001")
	assert.Error(t, err, "no batch is recorded for a read-only command")
	seq, hash, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Empty(t, hash)
}

func TestAppend_OutOfOrderWritesNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := testutil.NewSequenceIDs("")

	require.NoError(t, s.Append(ctx, createTestBatch(ids, "write"), []ir.Event{createTestEvent(5, "REQ-001", 0)}))

	err := s.Append(ctx, createTestBatch(ids, "write"), []ir.Event{
		createTestEvent(6, "REQ-001", 0),
		createTestEvent(5, "REQ-001", 0),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the failed batch is rolled back whole")
	_, err = s.ReadBatch(ctx, "batch-0002")
	assert.Error(t, err)
}

func TestAppend_RejectsUnsupportedData(t *testing.T) {
	s := createTestStore(t)
	ev := createTestEvent(1, "REQ-001", 0)
	ev.Data = map[string]any{"ratio": 0.5}

	err := s.Append(context.Background(), createTestBatch(testutil.NewSequenceIDs(""), "write"), []ir.Event{ev})
	assert.Error(t, err)
}

func TestUUIDv7_NewID(t *testing.T) {
	var gen IDGenerator = UUIDv7{}
	a, b := gen.NewID(), gen.NewID()

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
