package reducer

import (
	"slices"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

type accountFields struct {
	OrganizationID patch.Field[string]  `json:"organizationId"`
	Name           patch.Field[string]  `json:"name"`
	Status         patch.Field[string]  `json:"status"`
	AuditFrequency patch.Field[string]  `json:"auditFrequency"`
	MinFloor       patch.Field[int64]   `json:"minFloor"`
	MaxFloor       patch.Field[int64]   `json:"maxFloor"`
	ExcludedFloors patch.Field[[]int64] `json:"excludedFloors"`
}

func (r reduction) account() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityAccount)
	if err != nil {
		return nil, err
	}

	switch r.ev.Type {
	case event.AccountCreated:
		return r.createAccount(id)
	case event.AccountUpdated:
		return r.updateAccount(id)
	case event.AccountDeleted:
		return r.deleteAccount(id)
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) createAccount(id string) (*domain.Document, error) {
	if r.doc.Accounts().Has(id) {
		return nil, alreadyExists(domain.EntityAccount, id)
	}

	var f accountFields
	if err := r.decode(domain.EntityAccount, id, &f); err != nil {
		return nil, err
	}

	acct := domain.Account{
		ID:                      id,
		Status:                  domain.AccountActive,
		AuditFrequency:          domain.FrequencyNone,
		AuditFrequencyUpdatedAt: r.ts(),
		AuditFrequencyAnchorAt:  monthStart(r.ts()),
		CreatedAt:               r.ts(),
		UpdatedAt:               r.ts(),
	}
	if !f.OrganizationID.Set {
		return nil, validationError(domain.EntityAccount, id, "organizationId", "organizationId is required")
	}
	if err := r.patchAccount(&acct, f, true); err != nil {
		return nil, err
	}
	return r.doc.PutAccount(acct), nil
}

func (r reduction) updateAccount(id string) (*domain.Document, error) {
	acct, ok := r.doc.Accounts().Get(id)
	if !ok {
		return nil, notFound(domain.EntityAccount, id)
	}

	var f accountFields
	if err := r.decode(domain.EntityAccount, id, &f); err != nil {
		return nil, err
	}
	if err := r.patchAccount(&acct, f, false); err != nil {
		return nil, err
	}
	acct.UpdatedAt = advance(acct.UpdatedAt, r.ts())
	return r.doc.PutAccount(acct), nil
}

func (r reduction) patchAccount(acct *domain.Account, f accountFields, create bool) error {
	if f.OrganizationID.Set {
		orgID := f.OrganizationID.Value
		if err := required(domain.EntityAccount, acct.ID, "organizationId", orgID); err != nil {
			return err
		}
		if !r.doc.Organizations().Has(orgID) {
			return referenceNotFound(domain.EntityAccount, acct.ID, domain.EntityOrganization, orgID)
		}
		acct.OrganizationID = orgID
	}
	if create || f.Name.Set {
		if err := required(domain.EntityAccount, acct.ID, "name", f.Name.Value); err != nil {
			return err
		}
		acct.Name = f.Name.Value
	}
	if f.Status.Set {
		s := domain.AccountStatus(f.Status.Value)
		if f.Status.Null || !s.Valid() {
			return validationError(domain.EntityAccount, acct.ID, "status", "invalid status %q", f.Status.Value)
		}
		acct.Status = s
	}
	if f.AuditFrequency.Set {
		freq := domain.AuditFrequency(f.AuditFrequency.Value)
		if f.AuditFrequency.Null || !freq.Valid() {
			return validationError(domain.EntityAccount, acct.ID, "auditFrequency", "invalid audit frequency %q", f.AuditFrequency.Value)
		}
		if create || freq != acct.AuditFrequency {
			acct.AuditFrequencyUpdatedAt = r.ts()
			acct.AuditFrequencyAnchorAt = monthStart(r.ts())
		}
		acct.AuditFrequency = freq
	}
	return r.patchFloors(acct, f)
}

// patchFloors applies floor changes and checks the resulting range: both
// bounds together, min <= max, exclusions inside the bounds.
func (r reduction) patchFloors(acct *domain.Account, f accountFields) error {
	if f.MinFloor.Set {
		acct.MinFloor = nil
		if v, ok := f.MinFloor.Get(); ok {
			acct.MinFloor = &v
		}
	}
	if f.MaxFloor.Set {
		acct.MaxFloor = nil
		if v, ok := f.MaxFloor.Get(); ok {
			acct.MaxFloor = &v
		}
	}
	if f.ExcludedFloors.Set {
		acct.ExcludedFloors = nil
		if len(f.ExcludedFloors.Value) > 0 {
			excluded := slices.Clone(f.ExcludedFloors.Value)
			slices.Sort(excluded)
			acct.ExcludedFloors = slices.Compact(excluded)
		}
	}

	if (acct.MinFloor == nil) != (acct.MaxFloor == nil) {
		return validationError(domain.EntityAccount, acct.ID, "minFloor", "minFloor and maxFloor must be set together")
	}
	if !acct.HasFloors() {
		if len(acct.ExcludedFloors) > 0 {
			return validationError(domain.EntityAccount, acct.ID, "excludedFloors", "excludedFloors requires a floor range")
		}
		return nil
	}
	lo, hi := *acct.MinFloor, *acct.MaxFloor
	if lo > hi {
		return validationError(domain.EntityAccount, acct.ID, "minFloor", "minFloor %d is above maxFloor %d", lo, hi)
	}
	for _, fl := range acct.ExcludedFloors {
		if fl < lo || fl > hi {
			return validationError(domain.EntityAccount, acct.ID, "excludedFloors", "excluded floor %d outside [%d, %d]", fl, lo, hi)
		}
	}
	return nil
}

func (r reduction) deleteAccount(id string) (*domain.Document, error) {
	if !r.doc.Accounts().Has(id) {
		return nil, notFound(domain.EntityAccount, id)
	}

	blocking := refs(domain.EntityContact, r.doc.ContactsOf(id))
	blocking = append(blocking, refs(domain.EntityCode, r.doc.CodesOf(id))...)
	blocking = append(blocking, refs(domain.EntityAudit, r.doc.AuditsFor(id))...)
	blocking = append(blocking, refs(domain.EntityInteraction, r.doc.InteractionsForAccount(id))...)
	blocking = append(blocking, r.attachments(domain.EntityAccount, id)...)
	if len(blocking) > 0 {
		return nil, dependencyExists(domain.EntityAccount, id, blocking)
	}
	return r.doc.DeleteAccount(id), nil
}

// floorsAllowed checks floorsVisited against the account's range.
// The result is sorted with duplicates rejected.
func floorsAllowed(acct domain.Account, auditID string, floors []int64) ([]int64, error) {
	if len(floors) == 0 {
		return nil, nil
	}
	if !acct.HasFloors() {
		return nil, validationError(domain.EntityAudit, auditID, "floorsVisited", "account %q has no floor range", acct.ID)
	}
	out := slices.Clone(floors)
	slices.Sort(out)
	lo, hi := *acct.MinFloor, *acct.MaxFloor
	for i, fl := range out {
		if i > 0 && out[i-1] == fl {
			return nil, validationError(domain.EntityAudit, auditID, "floorsVisited", "floor %d listed twice", fl)
		}
		if fl < lo || fl > hi {
			return nil, validationError(domain.EntityAudit, auditID, "floorsVisited", "floor %d outside [%d, %d]", fl, lo, hi)
		}
		if slices.Contains(acct.ExcludedFloors, fl) {
			return nil, validationError(domain.EntityAudit, auditID, "floorsVisited", "floor %d is excluded", fl)
		}
	}
	return out, nil
}
