package store

import (
	"context"
	"fmt"

	"github.com/roach88/crmorbit/internal/event"
)

// Load returns every stored event in append order.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) Load(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, entity_id, payload, timestamp, device_id, digest
		FROM events
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.ID, &r.Type, &r.EntityID, &r.Payload, &r.Timestamp, &r.DeviceID, &r.Digest); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Digest returns the stored content digest of the event with id, and
// whether it exists.
func (s *Store) Digest(ctx context.Context, id string) (string, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT digest FROM events WHERE id = ?`, id)
	if err != nil {
		return "", false, fmt.Errorf("query digest: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var d string
	if err := rows.Scan(&d); err != nil {
		return "", false, fmt.Errorf("scan digest: %w", err)
	}
	return d, true, nil
}
