package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/reducer"
	"github.com/roach88/crmorbit/internal/testutil"
)

var t0 = testutil.Epoch

// sharedHistory is the log both devices hold before going offline.
func sharedHistory() []event.Event {
	return []event.Event{
		testutil.Event("laptop-0001", event.OrganizationCreated, "org-1", t0, map[string]any{"name": "Acme"}),
		testutil.Event("laptop-0002", event.AccountCreated, "acct-1", t0.Add(time.Minute), map[string]any{
			"organizationId": "org-1", "name": "HQ", "minFloor": 1, "maxFloor": 3,
		}),
	}
}

func withEvents(base []event.Event, extra ...event.Event) []event.Event {
	out := append([]event.Event{}, base...)
	return append(out, extra...)
}

func TestMerge_TwoDevicesScheduleAuditsOffline(t *testing.T) {
	shared := sharedHistory()
	laptop := withEvents(shared,
		testutil.Event("laptop-0003", event.AuditScheduled, "audit-l", t0.Add(10*time.Minute), map[string]any{
			"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30,
		}))
	phone := withEvents(shared,
		testutil.Event("phone-0001", event.AuditScheduled, "audit-p", t0.Add(20*time.Minute), map[string]any{
			"accountId": "acct-1", "scheduledFor": "2024-04-02T10:00:00Z", "durationMinutes": 45,
		}))

	res := Merge(nil, laptop, phone)
	require.Empty(t, res.Rejections)
	require.Empty(t, res.Conflicts)
	assert.Equal(t, 1, res.Added)
	assert.Len(t, res.Events, 4)

	assert.True(t, res.Document.Audits().Has("audit-l"))
	assert.True(t, res.Document.Audits().Has("audit-p"))
	acct, ok := res.Document.Accounts().Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(20*time.Minute), acct.UpdatedAt)
}

func TestMerge_OrderIndependent(t *testing.T) {
	shared := sharedHistory()
	a := withEvents(shared,
		testutil.Event("a-0001", event.ContactCreated, "c-1", t0.Add(5*time.Minute), map[string]any{"name": "Ada"}),
		testutil.Event("a-0002", event.AccountContactLinked, "", t0.Add(6*time.Minute), map[string]any{"accountId": "acct-1", "contactId": "c-1"}),
		testutil.Event("a-0003", event.OrganizationUpdated, "org-1", t0.Add(7*time.Minute), map[string]any{"name": "Acme A"}),
	)
	b := withEvents(shared,
		testutil.Event("b-0001", event.OrganizationUpdated, "org-1", t0.Add(7*time.Minute), map[string]any{"name": "Acme B"}),
		testutil.Event("b-0002", event.SettingsUpdated, "", t0.Add(3*time.Minute), map[string]any{"key": "theme", "value": "dark"}),
	)

	ab := Merge(nil, a, b)
	ba := Merge(nil, b, a)

	hab, err := ab.Document.Hash()
	require.NoError(t, err)
	hba, err := ba.Document.Hash()
	require.NoError(t, err)
	assert.Equal(t, hab, hba)

	idsOf := func(events []event.Event) []string {
		ids := make([]string, len(events))
		for i, ev := range events {
			ids[i] = ev.ID
		}
		return ids
	}
	assert.Equal(t, idsOf(ab.Events), idsOf(ba.Events))

	// Same timestamp: the larger id is applied last and wins.
	org, _ := ab.Document.Organizations().Get("org-1")
	assert.Equal(t, "Acme B", org.Name)
}

func TestMerge_KeepsRejectedEvents(t *testing.T) {
	shared := sharedHistory()
	a := withEvents(shared,
		testutil.Event("a-0001", event.AccountDeleted, "acct-1", t0.Add(5*time.Minute), nil))
	b := withEvents(shared,
		testutil.Event("b-0001", event.AuditScheduled, "audit-1", t0.Add(10*time.Minute), map[string]any{
			"accountId": "acct-1", "scheduledFor": "2024-04-01T10:00:00Z", "durationMinutes": 30,
		}))

	res := Merge(nil, a, b)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "b-0001", res.Rejections[0].Event.ID)
	assert.True(t, reducer.IsReferenceNotFound(res.Rejections[0].Err))
	assert.Len(t, res.Events, 4)
	assert.False(t, res.Document.Accounts().Has("acct-1"))
}

func TestMerge_Idempotent(t *testing.T) {
	log := sharedHistory()
	first := Merge(nil, log, log)
	assert.Equal(t, 0, first.Added)
	assert.Empty(t, first.Conflicts)

	again := Merge(nil, first.Events, log)
	h1, err := first.Document.Hash()
	require.NoError(t, err)
	h2, err := again.Document.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, again.Events, 2)
}

func TestMerge_ReportsConflictingDuplicates(t *testing.T) {
	local := []event.Event{testutil.Event("x-0001", event.OrganizationCreated, "org-1", t0, map[string]any{"name": "Local"})}
	remote := []event.Event{testutil.Event("x-0001", event.OrganizationCreated, "org-1", t0, map[string]any{"name": "Remote"})}

	dl, err := local[0].Digest()
	require.NoError(t, err)
	dr, err := remote[0].Digest()
	require.NoError(t, err)
	require.NotEqual(t, dl, dr)
	winner, loser := local[0], remote[0]
	if dr < dl {
		winner, loser = remote[0], local[0]
	}

	for name, res := range map[string]Result{
		"local first":  Merge(nil, local, remote),
		"remote first": Merge(nil, remote, local),
	} {
		t.Run(name, func(t *testing.T) {
			require.Len(t, res.Conflicts, 1)
			assert.Equal(t, "x-0001", res.Conflicts[0].ID)
			assert.Equal(t, winner, res.Conflicts[0].Kept)
			assert.Equal(t, loser, res.Conflicts[0].Dropped)
			require.Len(t, res.Events, 1)
			assert.Equal(t, winner, res.Events[0])
			assert.Zero(t, res.Added)

			name, _ := winner.Payload.Str("name")
			org, _ := res.Document.Organizations().Get("org-1")
			assert.Equal(t, name, org.Name)
		})
	}

	// Only a remote winner displaces the local copy.
	ab := Merge(nil, local, remote)
	ba := Merge(nil, remote, local)
	assert.Equal(t, 1, ab.Displaced+ba.Displaced)
	want := 0
	if dr < dl {
		want = 1
	}
	assert.Equal(t, want, ab.Displaced)
}

func TestMerge_DropsMalformedEnvelopes(t *testing.T) {
	bad := event.Event{Type: event.OrganizationCreated}
	res := Merge(nil, sharedHistory(), []event.Event{bad})
	require.Len(t, res.Invalid, 1)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 0, res.Added)
}

func TestReplay_DoesNotReorderInput(t *testing.T) {
	log := sharedHistory()
	reversed := []event.Event{log[1], log[0]}

	res := Replay(reducer.New(), reversed)
	assert.Empty(t, res.Rejections)
	assert.Equal(t, "laptop-0002", reversed[0].ID)
	assert.Equal(t, "laptop-0001", res.Events[0].ID)
}
