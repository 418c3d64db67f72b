package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/galed/internal/ir"
)

// Entry is one journal row.
type Entry struct {
	Seq         int64         `json:"seq"`
	Batch       string        `json:"batch"`
	Kind        ir.EventKind  `json:"kind"`
	Requirement string        `json:"requirement,omitempty"`
	Field       string        `json:"field,omitempty"`
	Proposal    ir.ProposalID `json:"proposal,omitempty"`
	Actor       ir.Author     `json:"actor"`
	At          time.Time     `json:"at"`
	Body        string        `json:"-"`
	PrevHash    string        `json:"prev_hash"`
	Hash        string        `json:"hash"`
}

// Data decodes the kind-specific details recorded with the event.
// Returns an empty map when the event carried none.
func (e Entry) Data() (map[string]any, error) {
	obj, err := unmarshalBody(e.Body)
	if err != nil {
		return nil, err
	}
	data, _ := obj["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Filter narrows a journal listing. Zero fields match everything.
type Filter struct {
	Requirement string
	Proposal    ir.ProposalID
	Batch       string
	AfterSeq    int64
	Limit       int
}

// Events lists journal entries matching the filter.
// Results are ordered deterministically: ORDER BY seq ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Events(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Requirement != "" {
		where = append(where, "requirement = ?")
		args = append(args, f.Requirement)
	}
	if f.Proposal != 0 {
		where = append(where, "proposal = ?")
		args = append(args, int64(f.Proposal))
	}
	if f.Batch != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.Batch)
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := `
		SELECT seq, batch_id, kind, requirement, field, proposal, actor_id, actor_kind, at, body, prev_hash, hash
		FROM events`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// ReadBatch retrieves a batch record by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadBatch(ctx context.Context, id string) (Batch, error) {
	var (
		b         Batch
		actorKind string
		startedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, command, actor_id, actor_kind, started_at
		FROM batches
		WHERE id = ?
	`, id).Scan(&b.ID, &b.Command, &b.Actor.ID, &actorKind, &startedAt)
	if err != nil {
		return Batch{}, err
	}
	b.Actor.Kind = ir.AuthorKind(actorKind)
	if b.StartedAt, err = parseTime(startedAt); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Count returns the number of events in the journal.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// scanEntry scans a single event row.
func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		kind      string
		proposal  int64
		actorKind string
		at        string
	)
	err := rows.Scan(
		&e.Seq,
		&e.Batch,
		&kind,
		&e.Requirement,
		&e.Field,
		&proposal,
		&e.Actor.ID,
		&actorKind,
		&at,
		&e.Body,
		&e.PrevHash,
		&e.Hash,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = ir.EventKind(kind)
	e.Proposal = ir.ProposalID(proposal)
	e.Actor.Kind = ir.AuthorKind(actorKind)
	if e.At, err = parseTime(at); err != nil {
		return Entry{}, fmt.Errorf("scan event %d: %w", e.Seq, err)
	}
	return e, nil
}
