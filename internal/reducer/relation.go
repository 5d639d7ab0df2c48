package reducer

import (
	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
)

type accountContactFields struct {
	AccountID string `json:"accountId"`
	ContactID string `json:"contactId"`
	Role      string `json:"role"`
}

type accountCodeFields struct {
	AccountID string `json:"accountId"`
	CodeID    string `json:"codeId"`
}

type linkFields struct {
	FromType string `json:"fromType"`
	FromID   string `json:"fromId"`
	ToType   string `json:"toType"`
	ToID     string `json:"toId"`
	Kind     string `json:"kind"`
}

func (r reduction) relation() (*domain.Document, error) {
	switch r.ev.Type {
	case event.AccountContactLinked, event.AccountContactUnlinked:
		return r.accountContact()
	case event.AccountCodeLinked, event.AccountCodeUnlinked:
		return r.accountCode()
	case event.EntityLinked:
		return r.linkEntities()
	case event.EntityUnlinked:
		return r.unlinkEntities()
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

// pairKey checks a present entityId against the derived relation key.
func (r reduction) pairKey(left, right string) (string, error) {
	key := domain.PairKey(left, right)
	if r.ev.EntityID != "" && r.ev.EntityID != key {
		return "", &Error{
			Code:     CodeEntityIDMismatch,
			Message:  "entityId " + quote(r.ev.EntityID) + " does not match relation key " + quote(key),
			Entity:   domain.EntityLink,
			EntityID: r.ev.EntityID,
		}
	}
	return key, nil
}

func (r reduction) accountContact() (*domain.Document, error) {
	var f accountContactFields
	if err := r.decode(domain.EntityLink, r.ev.EntityID, &f); err != nil {
		return nil, err
	}
	if err := required(domain.EntityLink, r.ev.EntityID, "accountId", f.AccountID); err != nil {
		return nil, err
	}
	if err := required(domain.EntityLink, r.ev.EntityID, "contactId", f.ContactID); err != nil {
		return nil, err
	}
	key, err := r.pairKey(f.AccountID, f.ContactID)
	if err != nil {
		return nil, err
	}
	exists := r.doc.AccountContacts().Has(key)

	if r.ev.Type == event.AccountContactUnlinked {
		if !exists {
			return nil, notFound(domain.EntityLink, key)
		}
		return r.doc.DeleteAccountContact(f.AccountID, f.ContactID), nil
	}

	if exists {
		return nil, alreadyExists(domain.EntityLink, key)
	}
	if !r.doc.Accounts().Has(f.AccountID) {
		return nil, referenceNotFound(domain.EntityLink, key, domain.EntityAccount, f.AccountID)
	}
	if !r.doc.Contacts().Has(f.ContactID) {
		return nil, referenceNotFound(domain.EntityLink, key, domain.EntityContact, f.ContactID)
	}
	return r.doc.PutAccountContact(domain.AccountContact{
		AccountID: f.AccountID,
		ContactID: f.ContactID,
		Role:      f.Role,
		CreatedAt: r.ts(),
	}), nil
}

func (r reduction) accountCode() (*domain.Document, error) {
	var f accountCodeFields
	if err := r.decode(domain.EntityLink, r.ev.EntityID, &f); err != nil {
		return nil, err
	}
	if err := required(domain.EntityLink, r.ev.EntityID, "accountId", f.AccountID); err != nil {
		return nil, err
	}
	if err := required(domain.EntityLink, r.ev.EntityID, "codeId", f.CodeID); err != nil {
		return nil, err
	}
	key, err := r.pairKey(f.AccountID, f.CodeID)
	if err != nil {
		return nil, err
	}
	exists := r.doc.AccountCodes().Has(key)

	if r.ev.Type == event.AccountCodeUnlinked {
		if !exists {
			return nil, notFound(domain.EntityLink, key)
		}
		return r.doc.DeleteAccountCode(f.AccountID, f.CodeID), nil
	}

	if exists {
		return nil, alreadyExists(domain.EntityLink, key)
	}
	if !r.doc.Accounts().Has(f.AccountID) {
		return nil, referenceNotFound(domain.EntityLink, key, domain.EntityAccount, f.AccountID)
	}
	if !r.doc.Codes().Has(f.CodeID) {
		return nil, referenceNotFound(domain.EntityLink, key, domain.EntityCode, f.CodeID)
	}
	return r.doc.PutAccountCode(domain.AccountCode{
		AccountID: f.AccountID,
		CodeID:    f.CodeID,
		CreatedAt: r.ts(),
	}), nil
}

func (r reduction) linkEntities() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityLink)
	if err != nil {
		return nil, err
	}
	if r.doc.Links().Has(id) {
		return nil, alreadyExists(domain.EntityLink, id)
	}

	var f linkFields
	if err := r.decode(domain.EntityLink, id, &f); err != nil {
		return nil, err
	}
	from, to := domain.EntityType(f.FromType), domain.EntityType(f.ToType)
	for _, end := range []struct {
		field string
		t     domain.EntityType
		id    string
	}{{"fromType", from, f.FromID}, {"toType", to, f.ToID}} {
		if !end.t.Valid() || end.t == domain.EntityLink {
			return nil, validationError(domain.EntityLink, id, end.field, "cannot link entity type %q", end.t)
		}
		if !r.doc.Exists(end.t, end.id) {
			return nil, referenceNotFound(domain.EntityLink, id, end.t, end.id)
		}
	}
	if from == to && f.FromID == f.ToID {
		return nil, validationError(domain.EntityLink, id, "toId", "an entity cannot be linked to itself")
	}
	if err := required(domain.EntityLink, id, "kind", f.Kind); err != nil {
		return nil, err
	}

	return r.doc.PutLink(domain.Link{
		ID:        id,
		FromType:  from,
		FromID:    f.FromID,
		ToType:    to,
		ToID:      f.ToID,
		Kind:      f.Kind,
		CreatedAt: r.ts(),
	}), nil
}

func (r reduction) unlinkEntities() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityLink)
	if err != nil {
		return nil, err
	}
	if !r.doc.Links().Has(id) {
		return nil, notFound(domain.EntityLink, id)
	}
	return r.doc.DeleteLink(id), nil
}
