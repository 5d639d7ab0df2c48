package reducer

import (
	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

type codeFields struct {
	Label patch.Field[string] `json:"label"`
	Type  patch.Field[string] `json:"type"`
	Value patch.Field[string] `json:"value"`
}

func (r reduction) code() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityCode)
	if err != nil {
		return nil, err
	}

	switch r.ev.Type {
	case event.CodeCreated:
		if r.doc.Codes().Has(id) {
			return nil, alreadyExists(domain.EntityCode, id)
		}
		c := domain.Code{ID: id, Type: domain.CodeOther, CreatedAt: r.ts(), UpdatedAt: r.ts()}
		return r.putCode(c, true)
	case event.CodeUpdated:
		c, ok := r.doc.Codes().Get(id)
		if !ok {
			return nil, notFound(domain.EntityCode, id)
		}
		c.UpdatedAt = advance(c.UpdatedAt, r.ts())
		return r.putCode(c, false)
	case event.CodeDeleted:
		if !r.doc.Codes().Has(id) {
			return nil, notFound(domain.EntityCode, id)
		}
		blocking := refs(domain.EntityAccount, r.doc.AccountsOfCode(id))
		blocking = append(blocking, r.attachments(domain.EntityCode, id)...)
		if len(blocking) > 0 {
			return nil, dependencyExists(domain.EntityCode, id, blocking)
		}
		return r.doc.DeleteCode(id), nil
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) putCode(c domain.Code, create bool) (*domain.Document, error) {
	var f codeFields
	if err := r.decode(domain.EntityCode, c.ID, &f); err != nil {
		return nil, err
	}
	if create || f.Label.Set {
		if err := required(domain.EntityCode, c.ID, "label", f.Label.Value); err != nil {
			return nil, err
		}
		c.Label = f.Label.Value
	}
	if f.Type.Set {
		t := domain.CodeType(f.Type.Value)
		if f.Type.Null || !t.Valid() {
			return nil, validationError(domain.EntityCode, c.ID, "type", "invalid code type %q", f.Type.Value)
		}
		c.Type = t
	}
	if create || f.Value.Set {
		if err := required(domain.EntityCode, c.ID, "value", f.Value.Value); err != nil {
			return nil, err
		}
		c.Value = f.Value.Value
	}
	return r.doc.PutCode(c), nil
}
