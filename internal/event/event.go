package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/crmorbit/internal/value"
)

// TimeLayout is the wire format of Event.Timestamp.
const TimeLayout = time.RFC3339Nano

// Event is one immutable, intended state change.
type Event struct {
	ID        string       `json:"id"`
	Type      Type         `json:"type"`
	EntityID  string       `json:"entityId,omitempty"`
	Payload   value.Object `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
	DeviceID  string       `json:"deviceId"`
}

// Validate checks the envelope fields. It does not look at the payload;
// that is the reducer's job.
func (e Event) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if e.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	if e.DeviceID == "" {
		errs = append(errs, errors.New("deviceId is required"))
	}
	if e.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid event %q: %w", e.ID, err)
	}
	return nil
}

// Object returns the event as a value.Object in its wire shape.
func (e Event) Object() value.Object {
	payload := e.Payload
	if payload == nil {
		payload = value.Object{}
	}
	obj := value.Object{
		"id":        value.String(e.ID),
		"type":      value.String(e.Type),
		"payload":   payload,
		"timestamp": value.String(FormatTime(e.Timestamp)),
		"deviceId":  value.String(e.DeviceID),
	}
	if e.EntityID != "" {
		obj["entityId"] = value.String(e.EntityID)
	}
	return obj
}

// Canonical returns the RFC 8785 encoding of the event.
func (e Event) Canonical() ([]byte, error) {
	return value.MarshalCanonical(e.Object())
}

// Digest is the content hash of the event, used to detect two different
// events that claim the same id.
func (e Event) Digest() (string, error) {
	return value.Hash(value.DomainEvent, e.Object())
}

// MarshalJSON encodes the event canonically.
func (e Event) MarshalJSON() ([]byte, error) {
	return e.Canonical()
}

// UnmarshalJSON decodes the wire shape. Timestamps are normalized to UTC.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID        string       `json:"id"`
		Type      Type         `json:"type"`
		EntityID  string       `json:"entityId"`
		Payload   value.Object `json:"payload"`
		Timestamp string       `json:"timestamp"`
		DeviceID  string       `json:"deviceId"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	var ts time.Time
	if wire.Timestamp != "" {
		parsed, err := ParseTime(wire.Timestamp)
		if err != nil {
			return fmt.Errorf("decode event %q: %w", wire.ID, err)
		}
		ts = parsed
	}
	if wire.Payload == nil {
		wire.Payload = value.Object{}
	}
	*e = Event{
		ID:        wire.ID,
		Type:      wire.Type,
		EntityID:  wire.EntityID,
		Payload:   wire.Payload,
		Timestamp: ts,
		DeviceID:  wire.DeviceID,
	}
	return nil
}

// FormatTime renders t in the wire layout, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts RFC 3339 timestamps with or without fractional seconds
// and returns them in UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Compare orders events by (Timestamp, ID). ID ties are broken by bytewise
// string comparison, which makes the order total for distinct ids.
func Compare(a, b Event) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Sort orders events in place by Compare. Stable, so exact duplicates keep
// their relative order.
func Sort(events []Event) {
	slices.SortStableFunc(events, Compare)
}
