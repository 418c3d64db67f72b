package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(seq int64) Event {
	return Event{
		Seq:         seq,
		Kind:        EventFieldWritten,
		Requirement: "REQ-001",
		Field:       "ac.threshold",
		Actor:       Author{ID: "alice", Kind: AuthorHuman},
		At:          time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Data:        map[string]any{"value": NewInt(10), "version": int64(2)},
	}
}

func TestEventHashDeterminism(t *testing.T) {
	h1, err := EventHash("", testEvent(1))
	require.NoError(t, err)
	h2, err := EventHash("", testEvent(1))
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "EventHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestEventHashChainsOnPrevious(t *testing.T) {
	h1, err := EventHash("", testEvent(1))
	require.NoError(t, err)
	h2, err := EventHash("abc", testEvent(1))
	require.NoError(t, err)
	h3, err := EventHash("", testEvent(2))
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "different prev must change hash")
	assert.NotEqual(t, h1, h3, "different seq must change hash")
}

func TestEventHashRejectsUnsupportedData(t *testing.T) {
	ev := testEvent(1)
	ev.Data = map[string]any{"ratio": 0.5}

	_, err := EventHash("", ev)
	assert.Error(t, err)
}

func TestValueDigest(t *testing.T) {
	a, err := ValueDigest(MustParseNumber("10.0"))
	require.NoError(t, err)
	b, err := ValueDigest(NewInt(10))
	require.NoError(t, err)
	c, err := ValueDigest(String("10"))
	require.NoError(t, err)

	assert.Equal(t, a, b, "canonically equal values share a digest")
	assert.NotEqual(t, a, c, "kind is part of the digest")
	assert.Len(t, a, 16)

	_, err = ValueDigest(nil)
	assert.Error(t, err)
}

func TestChainHashMatchesEventHash(t *testing.T) {
	body, err := EventBody(testEvent(1))
	require.NoError(t, err)
	want, err := EventHash("abc", testEvent(1))
	require.NoError(t, err)

	assert.Equal(t, want, ChainHash("abc", body))
	assert.NotEqual(t, want, ChainHash("abc", append(body, ' ')), "any byte change breaks the chain")
}
