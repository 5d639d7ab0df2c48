package reducer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
)

func schedule(f *fixture, id string) {
	f.t.Helper()
	f.must(event.AuditScheduled, id, map[string]any{
		"accountId":       "acct-1",
		"scheduledFor":    "2024-04-01T10:00:00Z",
		"durationMinutes": 45,
	})
}

func TestAudit_CompleteRejectsFloorOutsideRange(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	schedule(f, "a1")

	err := f.apply(event.AuditCompleted, "a1", map[string]any{
		"occurredAt":      "2024-04-01T10:30:00Z",
		"durationMinutes": 40,
		"floorsVisited":   []int{5},
	})
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeValidation, re.Code)
	assert.Equal(t, "floorsVisited", re.Field)
	assert.Equal(t, domain.AuditScheduled, f.audit("a1").Status)

	f.must(event.AuditCompleted, "a1", map[string]any{
		"occurredAt":      "2024-04-01T10:30:00Z",
		"durationMinutes": 40,
		"floorsVisited":   []int{2, 1},
		"score":           92,
	})
	a := f.audit("a1")
	assert.Equal(t, domain.AuditCompleted, a.Status)
	assert.Equal(t, []int64{1, 2}, a.FloorsVisited)
	assert.Equal(t, int64(40), a.DurationMinutes)
	require.NotNil(t, a.Score)
	assert.Equal(t, int64(92), *a.Score)
	require.NotNil(t, a.OccurredAt)
	assert.Equal(t, time.Date(2024, time.April, 1, 10, 30, 0, 0, time.UTC), *a.OccurredAt)
}

func TestAudit_FloorChecks(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	f.must(event.AccountUpdated, "acct-1", map[string]any{"excludedFloors": []int{2}})
	schedule(f, "a1")

	complete := func(floors []int) error {
		return f.apply(event.AuditUpdated, "a1", map[string]any{"floorsVisited": floors})
	}
	assert.True(t, IsValidation(complete([]int{2})), "excluded floor")
	assert.True(t, IsValidation(complete([]int{1, 1})), "duplicate floor")
	assert.True(t, IsValidation(complete([]int{0})), "below range")
	assert.NoError(t, complete([]int{3, 1}))
	assert.Equal(t, []int64{1, 3}, f.audit("a1").FloorsVisited)
}

func TestAudit_FloorsNeedAccountRange(t *testing.T) {
	f := newFixture(t)
	f.must(event.OrganizationCreated, "org-1", map[string]any{"name": "Acme"})
	f.must(event.AccountCreated, "acct-1", map[string]any{"organizationId": "org-1", "name": "HQ"})

	err := f.apply(event.AuditScheduled, "a1", map[string]any{
		"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30, "floorsVisited": []int{1},
	})
	assert.True(t, IsValidation(err))
}

func TestAudit_ScheduleValidation(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()

	assert.True(t, IsReferenceNotFound(f.apply(event.AuditScheduled, "a1", map[string]any{
		"accountId": "acct-x", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30,
	})))
	assert.True(t, IsValidation(f.apply(event.AuditScheduled, "a1", map[string]any{
		"accountId": "acct-1", "durationMinutes": 30,
	})))
	assert.True(t, IsValidation(f.apply(event.AuditScheduled, "a1", map[string]any{
		"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z",
	})))
	assert.True(t, IsValidation(f.apply(event.AuditScheduled, "a1", map[string]any{
		"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 0,
	})))
	assert.True(t, IsValidation(f.apply(event.AuditScheduled, "a1", map[string]any{
		"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30, "status": "completed",
	})))

	schedule(f, "a1")
	assert.True(t, IsAlreadyExists(f.apply(event.AuditCreated, "a1", map[string]any{
		"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30,
	})))
}

func TestAudit_CreatedIsScheduleAlias(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	f.must(event.AuditCreated, "a1", map[string]any{
		"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30,
	})
	assert.Equal(t, domain.AuditScheduled, f.audit("a1").Status)
	assert.Equal(t, []string{"a1"}, f.doc.AuditsFor("acct-1"))
}

func TestAudit_CompleteRequiresDuration(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	schedule(f, "a1")

	err := f.apply(event.AuditCompleted, "a1", map[string]any{"occurredAt": "2024-04-01T10:30:00Z"})
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "durationMinutes", re.Field)

	assert.True(t, IsValidation(f.apply(event.AuditCompleted, "a1", map[string]any{"durationMinutes": 30})))
	assert.True(t, IsValidation(f.apply(event.AuditCompleted, "a1", map[string]any{
		"occurredAt": "2024-04-01T10:30:00Z", "durationMinutes": -5,
	})))
}

func TestAudit_LegacyDurationDefault(t *testing.T) {
	f := newFixture(t, WithLegacyDurationDefault())
	f.seedAccount()
	f.must(event.AuditScheduled, "a1", map[string]any{"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z"})
	assert.Equal(t, LegacyDurationMinutes, f.audit("a1").DurationMinutes)

	f.must(event.AuditCompleted, "a1", map[string]any{"occurredAt": "2024-04-01T10:30:00Z"})
	a := f.audit("a1")
	assert.Equal(t, domain.AuditCompleted, a.Status)
	assert.Equal(t, LegacyDurationMinutes, a.DurationMinutes)
}

func TestAudit_TerminalStatesAreClosed(t *testing.T) {
	transitions := []struct {
		typ     event.Type
		payload map[string]any
	}{
		{event.AuditRescheduled, map[string]any{"scheduledFor": "2024-05-01T10:00:00Z"}},
		{event.AuditCanceled, map[string]any{"reason": "late"}},
		{event.AuditCompleted, map[string]any{"occurredAt": "2024-04-01T11:00:00Z", "durationMinutes": 10}},
		{event.AuditUpdated, map[string]any{"scheduledFor": "2024-05-01T10:00:00Z"}},
	}

	finish := map[string]func(f *fixture){
		"completed": func(f *fixture) {
			f.must(event.AuditCompleted, "a1", map[string]any{"occurredAt": "2024-04-01T10:30:00Z", "durationMinutes": 30})
		},
		"canceled": func(f *fixture) {
			f.must(event.AuditCanceled, "a1", map[string]any{"reason": "site closed"})
		},
	}

	for name, end := range finish {
		for _, tr := range transitions {
			t.Run(name+"/"+string(tr.typ), func(t *testing.T) {
				f := newFixture(t)
				f.seedAccount()
				schedule(f, "a1")
				end(f)
				status := f.audit("a1").Status
				require.True(t, status.Terminal())

				err := f.apply(tr.typ, "a1", tr.payload)
				assert.True(t, IsInvalidTransition(err), "got %v", err)
				assert.Equal(t, status, f.audit("a1").Status)
			})
		}
	}
}

func TestAudit_Reschedule(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	schedule(f, "a1")

	assert.True(t, IsValidation(f.apply(event.AuditRescheduled, "a1", nil)))
	f.must(event.AuditRescheduled, "a1", map[string]any{"scheduledFor": "2024-04-08T09:00:00Z", "durationMinutes": 60})
	a := f.audit("a1")
	assert.Equal(t, domain.AuditScheduled, a.Status)
	assert.Equal(t, time.Date(2024, time.April, 8, 9, 0, 0, 0, time.UTC), a.ScheduledFor)
	assert.Equal(t, int64(60), a.DurationMinutes)

	assert.True(t, IsNotFound(f.apply(event.AuditRescheduled, "a2", map[string]any{"scheduledFor": "2024-04-08T09:00:00Z"})))
}

func TestAudit_Cancel(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	schedule(f, "a1")
	f.must(event.AuditCanceled, "a1", map[string]any{"reason": "tenant moved"})

	a := f.audit("a1")
	assert.Equal(t, domain.AuditCanceled, a.Status)
	assert.Equal(t, "tenant moved", a.CancelReason)
	require.NotNil(t, a.CanceledAt)

	f.must(event.AuditUpdated, "a1", map[string]any{"notes": "rebook next quarter"})
	assert.Equal(t, "rebook next quarter", f.audit("a1").Notes)
	assert.True(t, IsValidation(f.apply(event.AuditUpdated, "a1", map[string]any{"score": 10})))
}

func TestAudit_ScoreBounds(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	schedule(f, "a1")
	assert.True(t, IsValidation(f.apply(event.AuditCompleted, "a1", map[string]any{
		"occurredAt": "2024-04-01T10:30:00Z", "durationMinutes": 30, "score": 101,
	})))
}

func TestAudit_BumpsAccountUpdatedAt(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	before := f.account("acct-1").UpdatedAt

	f.b.Clock.Set(before.Add(time.Hour))
	schedule(f, "a1")
	scheduled := f.account("acct-1").UpdatedAt
	assert.Equal(t, before.Add(time.Hour), scheduled)

	f.b.Clock.Set(before.Add(2 * time.Hour))
	f.must(event.AuditCompleted, "a1", map[string]any{"occurredAt": "2024-04-01T10:30:00Z", "durationMinutes": 30})
	assert.Equal(t, before.Add(2*time.Hour), f.account("acct-1").UpdatedAt)

	f.b.Clock.Set(before.Add(3 * time.Hour))
	schedule(f, "a2")
	f.must(event.AuditCanceled, "a2", nil)
	assert.Equal(t, before.Add(3*time.Hour), f.account("acct-1").UpdatedAt)
}

func TestAudit_DeleteAnyState(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	schedule(f, "a1")
	f.must(event.AuditCompleted, "a1", map[string]any{"occurredAt": "2024-04-01T10:30:00Z", "durationMinutes": 30})
	f.must(event.AuditDeleted, "a1", nil)
	assert.False(t, f.doc.Audits().Has("a1"))
	assert.Empty(t, f.doc.AuditsFor("acct-1"))
	assert.True(t, IsNotFound(f.apply(event.AuditDeleted, "a1", nil)))

	f.must(event.AccountDeleted, "acct-1", nil)
}
