package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/galed/internal/ir"
)

// ErrOutOfOrder is returned when appended events do not continue the
// journal's sequence.
var ErrOutOfOrder = errors.New("event sequence does not continue the journal")

// Batch groups the events committed by one command invocation.
type Batch struct {
	ID        string
	Command   string
	Actor     ir.Author
	StartedAt time.Time
}

// IDGenerator produces batch identifiers.
type IDGenerator interface {
	NewID() string
}

// UUIDv7 generates time-sortable batch IDs.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// NewID returns a hyphenated UUIDv7. Panics if generation fails.
func (UUIDv7) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewBatch starts a batch with an ID from gen.
func NewBatch(gen IDGenerator, command string, actor ir.Author, now time.Time) Batch {
	return Batch{ID: gen.NewID(), Command: command, Actor: actor, StartedAt: now.UTC()}
}

// Append writes a batch and its events in one transaction.
//
// Each event's hash chains to the previous row's hash. Events must carry
// sequence numbers strictly greater than the journal head, in order;
// otherwise nothing is written and ErrOutOfOrder is returned. Appending an
// empty event list is a no-op and records no batch.
func (s *Store) Append(ctx context.Context, batch Batch, events []ir.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seq, prev, err := head(ctx, tx)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, command, actor_id, actor_kind, started_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		batch.ID,
		batch.Command,
		batch.Actor.ID,
		string(batch.Actor.Kind),
		formatTime(batch.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("append: insert batch: %w", err)
	}

	for _, ev := range events {
		if ev.Seq <= seq {
			return fmt.Errorf("append: event seq %d after %d: %w", ev.Seq, seq, ErrOutOfOrder)
		}
		body, err := ir.EventBody(ev)
		if err != nil {
			return fmt.Errorf("append: seq %d: %w", ev.Seq, err)
		}
		hash := ir.ChainHash(prev, body)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events
			(seq, batch_id, kind, requirement, field, proposal, actor_id, actor_kind, at, body, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.Seq,
			batch.ID,
			string(ev.Kind),
			ev.Requirement,
			ev.Field,
			int64(ev.Proposal),
			ev.Actor.ID,
			string(ev.Actor.Kind),
			formatTime(ev.At),
			string(body),
			prev,
			hash,
		)
		if err != nil {
			return fmt.Errorf("append: insert seq %d: %w", ev.Seq, err)
		}
		seq, prev = ev.Seq, hash
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append: commit: %w", err)
	}
	return nil
}

// Head returns the sequence number and hash of the newest event, or 0 and
// "" for an empty journal.
func (s *Store) Head(ctx context.Context) (int64, string, error) {
	return head(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func head(ctx context.Context, q queryer) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := q.QueryRowContext(ctx, `
		SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read head: %w", err)
	}
	return seq, hash, nil
}
