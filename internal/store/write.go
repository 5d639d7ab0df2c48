package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/crmorbit/internal/event"
)

// Append inserts events in order within one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - ids already stored are
// silently skipped. Returns the number of rows actually inserted.
func (s *Store) Append(ctx context.Context, events []event.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	n, err := insertEvents(ctx, tx, events)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append: commit: %w", err)
	}
	return n, nil
}

// Replace atomically swaps the whole log for events.
// Metadata is left untouched.
func (s *Store) Replace(ctx context.Context, events []event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("replace: clear: %w", err)
	}
	if _, err := insertEvents(ctx, tx, events); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace: commit: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []event.Event) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(id, type, entity_id, payload, timestamp, device_id, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		r, err := toRow(ev)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, r.ID, r.Type, r.EntityID, r.Payload, r.Timestamp, r.DeviceID, r.Digest)
		if err != nil {
			return 0, fmt.Errorf("insert %q: %w", ev.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert %q: rows affected: %w", ev.ID, err)
		}
		inserted += int(n)
	}
	return inserted, nil
}
