package reducer

import (
	"maps"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

type organizationFields struct {
	Name        patch.Field[string]            `json:"name"`
	Status      patch.Field[string]            `json:"status"`
	LogoURI     patch.Field[string]            `json:"logoUri"`
	Website     patch.Field[string]            `json:"website"`
	SocialMedia patch.Field[map[string]string] `json:"socialMedia"`
}

func (r reduction) organization() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityOrganization)
	if err != nil {
		return nil, err
	}

	switch r.ev.Type {
	case event.OrganizationCreated:
		return r.createOrganization(id)
	case event.OrganizationUpdated:
		return r.updateOrganization(id)
	case event.OrganizationDeleted:
		return r.deleteOrganization(id)
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) createOrganization(id string) (*domain.Document, error) {
	if r.doc.Organizations().Has(id) {
		return nil, alreadyExists(domain.EntityOrganization, id)
	}

	var f organizationFields
	if err := r.decode(domain.EntityOrganization, id, &f); err != nil {
		return nil, err
	}

	org := domain.Organization{
		ID:        id,
		Status:    domain.OrganizationActive,
		CreatedAt: r.ts(),
		UpdatedAt: r.ts(),
	}
	if err := r.patchOrganization(&org, f, true); err != nil {
		return nil, err
	}
	return r.doc.PutOrganization(org), nil
}

func (r reduction) updateOrganization(id string) (*domain.Document, error) {
	org, ok := r.doc.Organizations().Get(id)
	if !ok {
		return nil, notFound(domain.EntityOrganization, id)
	}

	var f organizationFields
	if err := r.decode(domain.EntityOrganization, id, &f); err != nil {
		return nil, err
	}
	if err := r.patchOrganization(&org, f, false); err != nil {
		return nil, err
	}
	org.UpdatedAt = advance(org.UpdatedAt, r.ts())
	return r.doc.PutOrganization(org), nil
}

func (r reduction) patchOrganization(org *domain.Organization, f organizationFields, create bool) error {
	if create || f.Name.Set {
		if err := required(domain.EntityOrganization, org.ID, "name", f.Name.Value); err != nil {
			return err
		}
		org.Name = f.Name.Value
	}
	if f.Status.HasValue() {
		s := domain.OrganizationStatus(f.Status.Value)
		if !s.Valid() {
			return validationError(domain.EntityOrganization, org.ID, "status", "invalid status %q", f.Status.Value)
		}
		org.Status = s
	} else if f.Status.Null {
		return validationError(domain.EntityOrganization, org.ID, "status", "status cannot be null")
	}
	if f.LogoURI.Set {
		org.LogoURI = f.LogoURI.Value
	}
	if f.Website.Set {
		org.Website = f.Website.Value
	}
	if f.SocialMedia.Set {
		if len(f.SocialMedia.Value) == 0 {
			org.SocialMedia = nil
		} else {
			org.SocialMedia = maps.Clone(f.SocialMedia.Value)
		}
	}
	return nil
}

func (r reduction) deleteOrganization(id string) (*domain.Document, error) {
	if !r.doc.Organizations().Has(id) {
		return nil, notFound(domain.EntityOrganization, id)
	}

	blocking := refs(domain.EntityAccount, r.doc.AccountsOf(id))
	blocking = append(blocking, r.attachments(domain.EntityOrganization, id)...)
	if len(blocking) > 0 {
		return nil, dependencyExists(domain.EntityOrganization, id, blocking)
	}
	return r.doc.DeleteOrganization(id), nil
}
