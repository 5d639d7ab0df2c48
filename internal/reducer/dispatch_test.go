package reducer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/testutil"
)

func TestApply_UnknownEventType(t *testing.T) {
	f := newFixture(t)
	err := f.apply("account.archived", "acct-1", nil)
	require.Error(t, err)
	assert.True(t, IsUnknownEventType(err))

	err = f.apply("widget.created", "w-1", nil)
	assert.Equal(t, CodeUnknownEventType, CodeOf(err))
}

func TestApply_InvalidEnvelope(t *testing.T) {
	_, err := Apply(domain.Empty(), event.Event{Type: event.OrganizationCreated})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestApply_AnnotatesEvent(t *testing.T) {
	f := newFixture(t)
	ev := f.b.Make(event.OrganizationUpdated, "org-missing", map[string]any{"name": "x"})
	_, err := f.d.Apply(f.doc, ev)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeNotFound, re.Code)
	assert.Equal(t, ev.ID, re.EventID)
	assert.Equal(t, event.OrganizationUpdated, re.EventType)
	assert.Equal(t, domain.EntityOrganization, re.Entity)
	assert.Equal(t, "org-missing", re.EntityID)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestApply_EntityIDResolution(t *testing.T) {
	t.Run("payload id only", func(t *testing.T) {
		f := newFixture(t)
		f.must(event.OrganizationCreated, "", map[string]any{"id": "org-1", "name": "Acme"})
		assert.True(t, f.doc.Organizations().Has("org-1"))
	})

	t.Run("matching ids", func(t *testing.T) {
		f := newFixture(t)
		f.must(event.OrganizationCreated, "org-1", map[string]any{"id": "org-1", "name": "Acme"})
		assert.True(t, f.doc.Organizations().Has("org-1"))
	})

	t.Run("mismatch", func(t *testing.T) {
		f := newFixture(t)
		err := f.apply(event.OrganizationCreated, "org-1", map[string]any{"id": "org-2", "name": "Acme"})
		assert.ErrorIs(t, err, ErrEntityIDMismatch)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		err := f.apply(event.OrganizationCreated, "", map[string]any{"name": "Acme"})
		assert.ErrorIs(t, err, ErrMissingEntityID)
	})

	t.Run("non-string payload id", func(t *testing.T) {
		f := newFixture(t)
		err := f.apply(event.OrganizationCreated, "", map[string]any{"id": 7, "name": "Acme"})
		assert.True(t, IsValidation(err))
	})
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	before, err := f.doc.Canonical()
	require.NoError(t, err)
	snapshot := f.doc

	f.must(event.AccountUpdated, "acct-1", map[string]any{"name": "Renamed"})

	after, err := snapshot.Canonical()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "HQ", func() string { a, _ := snapshot.Accounts().Get("acct-1"); return a.Name }())
}

func TestApplyAll_StopsAtFirstFailure(t *testing.T) {
	b := testutil.NewEvents("dev-a")
	events := []event.Event{
		b.Make(event.OrganizationCreated, "org-1", map[string]any{"name": "Acme"}),
		b.Make(event.OrganizationCreated, "org-1", map[string]any{"name": "Again"}),
		b.Make(event.OrganizationCreated, "org-2", map[string]any{"name": "Never"}),
	}

	doc, err := ApplyAll(domain.Empty(), events)
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
	assert.Contains(t, err.Error(), "event 1")
	require.NotNil(t, doc)
	assert.Equal(t, 1, doc.Organizations().Len())
	assert.False(t, doc.Organizations().Has("org-2"))
}

func TestApplyAll_Deterministic(t *testing.T) {
	build := func() []event.Event {
		b := testutil.NewEvents("dev-a")
		return []event.Event{
			b.Make(event.OrganizationCreated, "org-1", map[string]any{"name": "Acme"}),
			b.Make(event.AccountCreated, "acct-1", map[string]any{"organizationId": "org-1", "name": "HQ", "auditFrequency": "monthly"}),
			b.Make(event.ContactCreated, "c-1", map[string]any{"name": "Ada", "methods": map[string]any{"emails": []string{"ada@example.com"}}}),
			b.Make(event.AccountContactLinked, "", map[string]any{"accountId": "acct-1", "contactId": "c-1", "role": "owner"}),
			b.Make(event.SettingsUpdated, "", map[string]any{"key": "theme", "value": "dark"}),
		}
	}

	d1, err := ApplyAll(domain.Empty(), build())
	require.NoError(t, err)
	d2, err := ApplyAll(domain.Empty(), build())
	require.NoError(t, err)

	h1, err := d1.Hash()
	require.NoError(t, err)
	h2, err := d2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestApply_NilDocumentIsEmpty(t *testing.T) {
	ev := testutil.Event("dev-1", event.OrganizationCreated, "org-1", testutil.Epoch, map[string]any{"name": "Acme"})
	doc, err := Apply(nil, ev)
	require.NoError(t, err)
	assert.True(t, doc.Organizations().Has("org-1"))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := notFound(domain.EntityAccount, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAlreadyExists)

	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsDomainError(wrapped))
	assert.False(t, IsDomainError(errors.New("io")))
}

func TestUpdatedAt_NeverMovesBackward(t *testing.T) {
	created := testutil.Event("dev-1", event.OrganizationCreated, "org-1", testutil.Epoch, map[string]any{"name": "Acme"})
	skewed := testutil.Event("dev-2", event.OrganizationUpdated, "org-1", testutil.Epoch.Add(-24*time.Hour),
		map[string]any{"website": "https://acme.test"})

	doc, err := ApplyAll(domain.Empty(), []event.Event{created, skewed})
	require.NoError(t, err)

	org, ok := doc.Organizations().Get("org-1")
	require.True(t, ok)
	assert.Equal(t, testutil.Epoch, org.UpdatedAt)
	assert.Equal(t, testutil.Epoch, org.CreatedAt)
	assert.Equal(t, "https://acme.test", org.Website)
}
