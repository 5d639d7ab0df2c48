package reducer

import (
	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

type noteFields struct {
	EntityType patch.Field[string] `json:"entityType"`
	EntityID   patch.Field[string] `json:"entityId"`
	Body       patch.Field[string] `json:"body"`
	Pinned     patch.Field[bool]   `json:"pinned"`
}

// noteTargets are the entity types a note may be attached to.
var noteTargets = map[domain.EntityType]bool{
	domain.EntityOrganization: true,
	domain.EntityAccount:      true,
	domain.EntityContact:      true,
}

func (r reduction) note() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityNote)
	if err != nil {
		return nil, err
	}

	switch r.ev.Type {
	case event.NoteCreated:
		return r.createNote(id)
	case event.NoteUpdated:
		return r.updateNote(id)
	case event.NoteDeleted:
		return r.deleteNote(id)
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) createNote(id string) (*domain.Document, error) {
	if r.doc.Notes().Has(id) {
		return nil, alreadyExists(domain.EntityNote, id)
	}

	var f noteFields
	if err := r.decode(domain.EntityNote, id, &f); err != nil {
		return nil, err
	}

	target := domain.EntityType(f.EntityType.Value)
	if !noteTargets[target] {
		return nil, validationError(domain.EntityNote, id, "entityType", "notes cannot be attached to %q", f.EntityType.Value)
	}
	if err := required(domain.EntityNote, id, "entityId", f.EntityID.Value); err != nil {
		return nil, err
	}
	if !r.doc.Exists(target, f.EntityID.Value) {
		return nil, referenceNotFound(domain.EntityNote, id, target, f.EntityID.Value)
	}
	if err := required(domain.EntityNote, id, "body", f.Body.Value); err != nil {
		return nil, err
	}

	n := domain.Note{
		ID:         id,
		EntityType: target,
		EntityID:   f.EntityID.Value,
		Body:       f.Body.Value,
		Pinned:     f.Pinned.Value,
		CreatedAt:  r.ts(),
		UpdatedAt:  r.ts(),
	}
	return r.doc.PutNote(n), nil
}

func (r reduction) updateNote(id string) (*domain.Document, error) {
	n, ok := r.doc.Notes().Get(id)
	if !ok {
		return nil, notFound(domain.EntityNote, id)
	}

	var f noteFields
	if err := r.decode(domain.EntityNote, id, &f); err != nil {
		return nil, err
	}
	if f.EntityType.Set && domain.EntityType(f.EntityType.Value) != n.EntityType {
		return nil, validationError(domain.EntityNote, id, "entityType", "a note cannot be moved to another entity")
	}
	if f.EntityID.Set && f.EntityID.Value != n.EntityID {
		return nil, validationError(domain.EntityNote, id, "entityId", "a note cannot be moved to another entity")
	}
	if f.Body.Set {
		if err := required(domain.EntityNote, id, "body", f.Body.Value); err != nil {
			return nil, err
		}
		n.Body = f.Body.Value
	}
	if f.Pinned.Set {
		n.Pinned = f.Pinned.Value
	}
	n.UpdatedAt = advance(n.UpdatedAt, r.ts())
	return r.doc.PutNote(n), nil
}

func (r reduction) deleteNote(id string) (*domain.Document, error) {
	if !r.doc.Notes().Has(id) {
		return nil, notFound(domain.EntityNote, id)
	}
	if blocking := refs(domain.EntityLink, r.doc.LinksFor(domain.EntityNote, id)); len(blocking) > 0 {
		return nil, dependencyExists(domain.EntityNote, id, blocking)
	}
	return r.doc.DeleteNote(id), nil
}
