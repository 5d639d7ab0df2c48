package reducer

import (
	"time"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

type interactionFields struct {
	Type       patch.Field[string]    `json:"type"`
	OccurredAt patch.Field[time.Time] `json:"occurredAt"`
	Summary    patch.Field[string]    `json:"summary"`
	AccountID  patch.Field[string]    `json:"accountId"`
	ContactID  patch.Field[string]    `json:"contactId"`
}

func (r reduction) interaction() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityInteraction)
	if err != nil {
		return nil, err
	}

	switch r.ev.Type {
	case event.InteractionCreated:
		return r.createInteraction(id)
	case event.InteractionUpdated:
		return r.updateInteraction(id)
	case event.InteractionDeleted:
		return r.deleteInteraction(id)
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) createInteraction(id string) (*domain.Document, error) {
	if r.doc.Interactions().Has(id) {
		return nil, alreadyExists(domain.EntityInteraction, id)
	}

	var f interactionFields
	if err := r.decode(domain.EntityInteraction, id, &f); err != nil {
		return nil, err
	}
	if !f.Type.Set {
		return nil, validationError(domain.EntityInteraction, id, "type", "type is required")
	}
	if !f.OccurredAt.HasValue() {
		return nil, validationError(domain.EntityInteraction, id, "occurredAt", "occurredAt is required")
	}

	in := domain.Interaction{
		ID:        id,
		CreatedAt: r.ts(),
		UpdatedAt: r.ts(),
	}
	if err := r.patchInteraction(&in, f); err != nil {
		return nil, err
	}
	return r.doc.PutInteraction(in), nil
}

func (r reduction) updateInteraction(id string) (*domain.Document, error) {
	in, ok := r.doc.Interactions().Get(id)
	if !ok {
		return nil, notFound(domain.EntityInteraction, id)
	}

	var f interactionFields
	if err := r.decode(domain.EntityInteraction, id, &f); err != nil {
		return nil, err
	}
	if err := r.patchInteraction(&in, f); err != nil {
		return nil, err
	}
	in.UpdatedAt = advance(in.UpdatedAt, r.ts())
	return r.doc.PutInteraction(in), nil
}

func (r reduction) patchInteraction(in *domain.Interaction, f interactionFields) error {
	if f.Type.Set {
		t := domain.InteractionType(f.Type.Value)
		if f.Type.Null || !t.Valid() {
			return validationError(domain.EntityInteraction, in.ID, "type", "invalid interaction type %q", f.Type.Value)
		}
		in.Type = t
	}
	if f.OccurredAt.Set {
		if f.OccurredAt.Null {
			return validationError(domain.EntityInteraction, in.ID, "occurredAt", "occurredAt cannot be null")
		}
		in.OccurredAt = f.OccurredAt.Value.UTC()
	}
	if f.Summary.Set {
		in.Summary = f.Summary.Value
	}
	if f.AccountID.Set {
		in.AccountID = f.AccountID.Value
		if in.AccountID != "" && !r.doc.Accounts().Has(in.AccountID) {
			return referenceNotFound(domain.EntityInteraction, in.ID, domain.EntityAccount, in.AccountID)
		}
	}
	if f.ContactID.Set {
		in.ContactID = f.ContactID.Value
		if in.ContactID != "" && !r.doc.Contacts().Has(in.ContactID) {
			return referenceNotFound(domain.EntityInteraction, in.ID, domain.EntityContact, in.ContactID)
		}
	}
	if in.AccountID == "" && in.ContactID == "" {
		return validationError(domain.EntityInteraction, in.ID, "accountId", "an interaction needs an accountId or a contactId")
	}
	return nil
}

func (r reduction) deleteInteraction(id string) (*domain.Document, error) {
	if !r.doc.Interactions().Has(id) {
		return nil, notFound(domain.EntityInteraction, id)
	}
	if blocking := refs(domain.EntityLink, r.doc.LinksFor(domain.EntityInteraction, id)); len(blocking) > 0 {
		return nil, dependencyExists(domain.EntityInteraction, id, blocking)
	}
	return r.doc.DeleteInteraction(id), nil
}
