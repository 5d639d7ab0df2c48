package reducer

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/value"
)

// reduction carries one event through its family reducer.
type reduction struct {
	doc            *domain.Document
	ev             event.Event
	legacyDuration bool
}

// ts is the event timestamp, normalized to UTC.
func (r reduction) ts() time.Time {
	return r.ev.Timestamp.UTC()
}

// entityID resolves the target id from the envelope and payload.id.
func (r reduction) entityID(entity domain.EntityType) (string, error) {
	raw, hasPayloadID := r.ev.Payload["id"]
	var payloadID string
	if hasPayloadID {
		s, ok := raw.(value.String)
		if !ok {
			return "", validationError(entity, r.ev.EntityID, "id", "payload id must be a string")
		}
		payloadID = string(s)
	}

	switch {
	case r.ev.EntityID != "" && payloadID != "" && r.ev.EntityID != payloadID:
		return "", &Error{
			Code:     CodeEntityIDMismatch,
			Message:  "entityId " + quote(r.ev.EntityID) + " does not match payload id " + quote(payloadID),
			Entity:   entity,
			EntityID: r.ev.EntityID,
		}
	case r.ev.EntityID != "":
		return r.ev.EntityID, nil
	case payloadID != "":
		return payloadID, nil
	default:
		return "", &Error{
			Code:    CodeMissingEntityID,
			Message: "neither entityId nor payload id is set",
			Entity:  entity,
		}
	}
}

// decode unmarshals the payload into dst.
func (r reduction) decode(entity domain.EntityType, id string, dst any) error {
	data, err := value.MarshalCanonical(r.ev.Payload)
	if err != nil {
		return validationError(entity, id, "", "payload: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		field := ""
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			field = te.Field
		}
		return validationError(entity, id, field, "payload: %v", err)
	}
	return nil
}

// advance returns the later of prev and ts so updatedAt never moves back.
func advance(prev, ts time.Time) time.Time {
	if ts.Before(prev) {
		return prev
	}
	return ts
}

// monthStart returns 00:00 UTC on the first day of t's month.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// refs formats ids as "type:id" references.
func refs(t domain.EntityType, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(t)+":"+id)
	}
	return out
}

// attachments lists notes and links that block deletion of (t, id).
func (r reduction) attachments(t domain.EntityType, id string) []string {
	var out []string
	out = append(out, refs(domain.EntityNote, r.doc.NotesFor(t, id))...)
	out = append(out, refs(domain.EntityLink, r.doc.LinksFor(t, id))...)
	return out
}

func required(entity domain.EntityType, id, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return validationError(entity, id, field, "%s is required", field)
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}
