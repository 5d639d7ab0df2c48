package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/value"
)

// row is the column form of an event.
type row struct {
	ID        string
	Type      string
	EntityID  string
	Payload   string
	Timestamp string
	DeviceID  string
	Digest    string
}

// toRow serializes ev. The payload is stored as RFC 8785 canonical JSON
// so that a reloaded event hashes identically.
func toRow(ev event.Event) (row, error) {
	payload := ev.Payload
	if payload == nil {
		payload = value.Object{}
	}
	data, err := value.MarshalCanonical(payload)
	if err != nil {
		return row{}, fmt.Errorf("marshal payload of %q: %w", ev.ID, err)
	}
	digest, err := ev.Digest()
	if err != nil {
		return row{}, fmt.Errorf("digest %q: %w", ev.ID, err)
	}
	return row{
		ID:        ev.ID,
		Type:      string(ev.Type),
		EntityID:  ev.EntityID,
		Payload:   string(data),
		Timestamp: event.FormatTime(ev.Timestamp),
		DeviceID:  ev.DeviceID,
		Digest:    digest,
	}, nil
}

// fromRow parses a stored row back into an event.
// Uses value.Object.UnmarshalJSON which keeps large integers exact.
func fromRow(r row) (event.Event, error) {
	var payload value.Object
	if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
		return event.Event{}, fmt.Errorf("unmarshal payload of %q: %w", r.ID, err)
	}
	if payload == nil {
		payload = value.Object{}
	}
	ts, err := event.ParseTime(r.Timestamp)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %q: %w", r.ID, err)
	}
	return event.Event{
		ID:        r.ID,
		Type:      event.Type(r.Type),
		EntityID:  r.EntityID,
		Payload:   payload,
		Timestamp: ts,
		DeviceID:  r.DeviceID,
	}, nil
}
