package reducer

import (
	"time"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/patch"
)

// Score bounds for completed audits.
const (
	MinAuditScore int64 = 0
	MaxAuditScore int64 = 100
)

type auditFields struct {
	AccountID       patch.Field[string]    `json:"accountId"`
	ScheduledFor    patch.Field[time.Time] `json:"scheduledFor"`
	DurationMinutes patch.Field[int64]     `json:"durationMinutes"`
	Status          patch.Field[string]    `json:"status"`
	OccurredAt      patch.Field[time.Time] `json:"occurredAt"`
	Score           patch.Field[int64]     `json:"score"`
	Notes           patch.Field[string]    `json:"notes"`
	FloorsVisited   patch.Field[[]int64]   `json:"floorsVisited"`
	Reason          patch.Field[string]    `json:"reason"`
}

func (r reduction) audit() (*domain.Document, error) {
	id, err := r.entityID(domain.EntityAudit)
	if err != nil {
		return nil, err
	}

	var f auditFields
	if err := r.decode(domain.EntityAudit, id, &f); err != nil {
		return nil, err
	}
	if f.Status.Set {
		return nil, validationError(domain.EntityAudit, id, "status", "status is changed only by transition events")
	}

	switch r.ev.Type {
	case event.AuditScheduled, event.AuditCreated:
		return r.scheduleAudit(id, f)
	case event.AuditDeleted:
		if !r.doc.Audits().Has(id) {
			return nil, notFound(domain.EntityAudit, id)
		}
		return r.deleteAudit(id)
	}

	a, ok := r.doc.Audits().Get(id)
	if !ok {
		return nil, notFound(domain.EntityAudit, id)
	}

	switch r.ev.Type {
	case event.AuditRescheduled:
		return r.rescheduleAudit(a, f)
	case event.AuditCompleted:
		return r.completeAudit(a, f)
	case event.AuditCanceled:
		return r.cancelAudit(a, f)
	case event.AuditUpdated:
		return r.updateAudit(a, f)
	default:
		return nil, unknownEventType(r.ev.Type)
	}
}

func (r reduction) scheduleAudit(id string, f auditFields) (*domain.Document, error) {
	if r.doc.Audits().Has(id) {
		return nil, alreadyExists(domain.EntityAudit, id)
	}
	if err := required(domain.EntityAudit, id, "accountId", f.AccountID.Value); err != nil {
		return nil, err
	}
	acct, ok := r.doc.Accounts().Get(f.AccountID.Value)
	if !ok {
		return nil, referenceNotFound(domain.EntityAudit, id, domain.EntityAccount, f.AccountID.Value)
	}
	if !f.ScheduledFor.HasValue() {
		return nil, validationError(domain.EntityAudit, id, "scheduledFor", "scheduledFor is required")
	}
	duration, err := r.duration(id, f.DurationMinutes)
	if err != nil {
		return nil, err
	}

	a := domain.Audit{
		ID:              id,
		AccountID:       acct.ID,
		ScheduledFor:    f.ScheduledFor.Value.UTC(),
		DurationMinutes: duration,
		Status:          domain.AuditScheduled,
		Notes:           f.Notes.Value,
		CreatedAt:       r.ts(),
		UpdatedAt:       r.ts(),
	}
	if a.FloorsVisited, err = floorsAllowed(acct, id, f.FloorsVisited.Value); err != nil {
		return nil, err
	}
	if f.Score.Set {
		return nil, validationError(domain.EntityAudit, id, "score", "a scheduled audit has no score")
	}

	return r.touchAccount(r.doc.PutAudit(a), acct), nil
}

func (r reduction) rescheduleAudit(a domain.Audit, f auditFields) (*domain.Document, error) {
	if a.Status != domain.AuditScheduled {
		return nil, invalidTransition(domain.EntityAudit, a.ID, "cannot reschedule a %s audit", a.Status)
	}
	if !f.ScheduledFor.HasValue() {
		return nil, validationError(domain.EntityAudit, a.ID, "scheduledFor", "scheduledFor is required")
	}
	a.ScheduledFor = f.ScheduledFor.Value.UTC()
	if f.DurationMinutes.Set {
		d, err := positiveDuration(a.ID, f.DurationMinutes)
		if err != nil {
			return nil, err
		}
		a.DurationMinutes = d
	}
	a.UpdatedAt = advance(a.UpdatedAt, r.ts())
	return r.doc.PutAudit(a), nil
}

func (r reduction) completeAudit(a domain.Audit, f auditFields) (*domain.Document, error) {
	if a.Status != domain.AuditScheduled {
		return nil, invalidTransition(domain.EntityAudit, a.ID, "cannot complete a %s audit", a.Status)
	}
	if !f.OccurredAt.HasValue() {
		return nil, validationError(domain.EntityAudit, a.ID, "occurredAt", "occurredAt is required")
	}
	duration, err := r.duration(a.ID, f.DurationMinutes)
	if err != nil {
		return nil, err
	}
	acct, ok := r.doc.Accounts().Get(a.AccountID)
	if !ok {
		return nil, referenceNotFound(domain.EntityAudit, a.ID, domain.EntityAccount, a.AccountID)
	}
	if err := r.patchAuditDetails(&a, acct, f); err != nil {
		return nil, err
	}

	occurred := f.OccurredAt.Value.UTC()
	a.OccurredAt = &occurred
	a.DurationMinutes = duration
	a.Status = domain.AuditCompleted
	a.UpdatedAt = advance(a.UpdatedAt, r.ts())
	return r.touchAccount(r.doc.PutAudit(a), acct), nil
}

func (r reduction) cancelAudit(a domain.Audit, f auditFields) (*domain.Document, error) {
	if a.Status != domain.AuditScheduled {
		return nil, invalidTransition(domain.EntityAudit, a.ID, "cannot cancel a %s audit", a.Status)
	}
	canceled := r.ts()
	a.CanceledAt = &canceled
	a.CancelReason = f.Reason.Value
	a.Status = domain.AuditCanceled
	a.UpdatedAt = advance(a.UpdatedAt, r.ts())
	return r.doc.PutAudit(a), nil
}

// updateAudit edits details without changing status. Schedule fields are
// only editable while the audit is still scheduled.
func (r reduction) updateAudit(a domain.Audit, f auditFields) (*domain.Document, error) {
	if f.AccountID.Set && f.AccountID.Value != a.AccountID {
		return nil, validationError(domain.EntityAudit, a.ID, "accountId", "an audit cannot move to another account")
	}
	if (f.ScheduledFor.Set || f.DurationMinutes.Set) && a.Status != domain.AuditScheduled {
		return nil, invalidTransition(domain.EntityAudit, a.ID, "cannot change the schedule of a %s audit", a.Status)
	}
	if f.ScheduledFor.Set {
		if f.ScheduledFor.Null {
			return nil, validationError(domain.EntityAudit, a.ID, "scheduledFor", "scheduledFor cannot be null")
		}
		a.ScheduledFor = f.ScheduledFor.Value.UTC()
	}
	if f.DurationMinutes.Set {
		d, err := positiveDuration(a.ID, f.DurationMinutes)
		if err != nil {
			return nil, err
		}
		a.DurationMinutes = d
	}
	if f.OccurredAt.Set {
		if a.Status != domain.AuditCompleted || f.OccurredAt.Null {
			return nil, validationError(domain.EntityAudit, a.ID, "occurredAt", "occurredAt is only set on completed audits")
		}
		occurred := f.OccurredAt.Value.UTC()
		a.OccurredAt = &occurred
	}
	if f.Score.Set && a.Status != domain.AuditCompleted {
		return nil, validationError(domain.EntityAudit, a.ID, "score", "only completed audits carry a score")
	}

	acct, ok := r.doc.Accounts().Get(a.AccountID)
	if !ok {
		return nil, referenceNotFound(domain.EntityAudit, a.ID, domain.EntityAccount, a.AccountID)
	}
	if err := r.patchAuditDetails(&a, acct, f); err != nil {
		return nil, err
	}
	if f.Reason.Set && a.Status == domain.AuditCanceled {
		a.CancelReason = f.Reason.Value
	}
	a.UpdatedAt = advance(a.UpdatedAt, r.ts())
	return r.doc.PutAudit(a), nil
}

// patchAuditDetails applies score, notes and floorsVisited.
func (r reduction) patchAuditDetails(a *domain.Audit, acct domain.Account, f auditFields) error {
	if f.Score.Set {
		if f.Score.Null {
			a.Score = nil
		} else {
			s := f.Score.Value
			if s < MinAuditScore || s > MaxAuditScore {
				return validationError(domain.EntityAudit, a.ID, "score", "score %d outside [%d, %d]", s, MinAuditScore, MaxAuditScore)
			}
			a.Score = &s
		}
	}
	if f.Notes.Set {
		a.Notes = f.Notes.Value
	}
	if f.FloorsVisited.Set {
		floors, err := floorsAllowed(acct, a.ID, f.FloorsVisited.Value)
		if err != nil {
			return err
		}
		a.FloorsVisited = floors
	}
	return nil
}

func (r reduction) deleteAudit(id string) (*domain.Document, error) {
	if blocking := refs(domain.EntityLink, r.doc.LinksFor(domain.EntityAudit, id)); len(blocking) > 0 {
		return nil, dependencyExists(domain.EntityAudit, id, blocking)
	}
	return r.doc.DeleteAudit(id), nil
}

// duration resolves durationMinutes for scheduling and completion.
func (r reduction) duration(id string, f patch.Field[int64]) (int64, error) {
	if !f.HasValue() && r.legacyDuration {
		return LegacyDurationMinutes, nil
	}
	return positiveDuration(id, f)
}

func positiveDuration(id string, f patch.Field[int64]) (int64, error) {
	if !f.HasValue() {
		return 0, validationError(domain.EntityAudit, id, "durationMinutes", "durationMinutes is required")
	}
	if f.Value <= 0 {
		return 0, validationError(domain.EntityAudit, id, "durationMinutes", "durationMinutes must be positive, got %d", f.Value)
	}
	return f.Value, nil
}

// touchAccount bumps the parent account's updatedAt to the event time.
func (r reduction) touchAccount(doc *domain.Document, acct domain.Account) *domain.Document {
	next := advance(acct.UpdatedAt, r.ts())
	if next.Equal(acct.UpdatedAt) {
		return doc
	}
	acct.UpdatedAt = next
	return doc.PutAccount(acct)
}
