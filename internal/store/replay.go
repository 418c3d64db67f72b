package store

import (
	"context"
	"fmt"

	"github.com/roach88/galed/internal/ir"
)

// Break describes the first row where the hash chain fails.
type Break struct {
	Seq    int64  `json:"seq"`
	Reason string `json:"reason"`
}

// VerifyResult summarizes a chain verification.
type VerifyResult struct {
	Events  int64  `json:"events"`
	HeadSeq int64  `json:"head_seq"`
	Head    string `json:"head"`
	Break   *Break `json:"break,omitempty"`
}

// OK reports whether the whole chain verified.
func (r VerifyResult) OK() bool { return r.Break == nil }

// Verify walks the journal in seq order and recomputes every hash from the
// stored canonical body and the previous row's hash. It stops at the first
// broken link.
//
// Detects: edited bodies, edited or reordered hashes, and deleted rows in
// the middle of the chain (prev_hash no longer matches). Truncation of the
// newest rows is only detectable against a head recorded elsewhere.
func (s *Store) Verify(ctx context.Context) (VerifyResult, error) {
	var (
		res     VerifyResult
		prev    string
		lastSeq int64
	)
	err := s.Replay(ctx, 0, func(e Entry) bool {
		switch {
		case e.Seq <= lastSeq:
			res.Break = &Break{Seq: e.Seq, Reason: fmt.Sprintf("seq %d does not follow %d", e.Seq, lastSeq)}
		case e.PrevHash != prev:
			res.Break = &Break{Seq: e.Seq, Reason: "prev_hash does not match the preceding event"}
		case ir.ChainHash(prev, []byte(e.Body)) != e.Hash:
			res.Break = &Break{Seq: e.Seq, Reason: "hash does not match the stored body"}
		}
		if res.Break != nil {
			return false
		}
		res.Events++
		res.HeadSeq, res.Head = e.Seq, e.Hash
		prev, lastSeq = e.Hash, e.Seq
		return true
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	return res, nil
}

// Replay streams entries with seq > after to fn in seq order until fn
// returns false.
func (s *Store) Replay(ctx context.Context, after int64, fn func(Entry) bool) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, batch_id, kind, requirement, field, proposal, actor_id, actor_kind, at, body, prev_hash, hash
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}
