package reducer

import (
	"strings"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

type contactMethodsFields struct {
	Emails patch.Field[[]string] `json:"emails"`
	Phones patch.Field[[]string] `json:"phones"`
}

type contactFields struct {
	Type    patch.Field[string]               `json:"type"`
	Name    patch.Field[string]               `json:"name"`
	Title   patch.Field[string]               `json:"title"`
	Methods patch.Field[contactMethodsFields] `json:"methods"`
}

func (r reduction) contact() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityContact)
	if err != nil {
		return nil, err
	}

	switch r.ev.Type {
	case event.ContactCreated:
		return r.createContact(id)
	case event.ContactUpdated:
		return r.updateContact(id)
	case event.ContactDeleted:
		return r.deleteContact(id)
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) createContact(id string) (*domain.Document, error) {
	if r.doc.Contacts().Has(id) {
		return nil, alreadyExists(domain.EntityContact, id)
	}

	var f contactFields
	if err := r.decode(domain.EntityContact, id, &f); err != nil {
		return nil, err
	}

	c := domain.Contact{
		ID:        id,
		Type:      domain.ContactPerson,
		Methods:   domain.ContactMethods{Emails: []string{}, Phones: []string{}},
		CreatedAt: r.ts(),
		UpdatedAt: r.ts(),
	}
	if err := patchContact(&c, f, true); err != nil {
		return nil, err
	}
	return r.doc.PutContact(c), nil
}

func (r reduction) updateContact(id string) (*domain.Document, error) {
	c, ok := r.doc.Contacts().Get(id)
	if !ok {
		return nil, notFound(domain.EntityContact, id)
	}

	var f contactFields
	if err := r.decode(domain.EntityContact, id, &f); err != nil {
		return nil, err
	}
	if err := patchContact(&c, f, false); err != nil {
		return nil, err
	}
	c.UpdatedAt = advance(c.UpdatedAt, r.ts())
	return r.doc.PutContact(c), nil
}

func patchContact(c *domain.Contact, f contactFields, create bool) error {
	if f.Type.Set {
		t := domain.ContactType(f.Type.Value)
		if f.Type.Null || !t.Valid() {
			return validationError(domain.EntityContact, c.ID, "type", "invalid contact type %q", f.Type.Value)
		}
		c.Type = t
	}
	if create || f.Name.Set {
		if err := required(domain.EntityContact, c.ID, "name", f.Name.Value); err != nil {
			return err
		}
		c.Name = f.Name.Value
	}
	if f.Title.Set {
		c.Title = f.Title.Value
	}

	if !f.Methods.Set {
		return nil
	}
	if f.Methods.Null {
		c.Methods = domain.ContactMethods{Emails: []string{}, Phones: []string{}}
		return nil
	}
	m := f.Methods.Value
	if m.Emails.Set {
		emails, err := cleanMethods(c.ID, "methods.emails", m.Emails.Value)
		if err != nil {
			return err
		}
		c.Methods.Emails = emails
	}
	if m.Phones.Set {
		phones, err := cleanMethods(c.ID, "methods.phones", m.Phones.Value)
		if err != nil {
			return err
		}
		c.Methods.Phones = phones
	}
	return nil
}

// cleanMethods trims entries and drops duplicates, keeping first-seen order.
func cleanMethods(id, field string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, validationError(domain.EntityContact, id, field, "%s contains an empty entry", field)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

func (r reduction) deleteContact(id string) (*domain.Document, error) {
	if !r.doc.Contacts().Has(id) {
		return nil, notFound(domain.EntityContact, id)
	}

	blocking := refs(domain.EntityAccount, r.doc.AccountsOfContact(id))
	blocking = append(blocking, refs(domain.EntityInteraction, r.doc.InteractionsForContact(id))...)
	blocking = append(blocking, r.attachments(domain.EntityContact, id)...)
	if len(blocking) > 0 {
		return nil, dependencyExists(domain.EntityContact, id, blocking)
	}
	return r.doc.DeleteContact(id), nil
}
