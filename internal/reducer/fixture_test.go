package reducer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/testutil"
)

// fixture threads a document through successive events.
type fixture struct {
	t   *testing.T
	b   *testutil.Events
	d   *Dispatcher
	doc *domain.Document
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return &fixture{
		t:   t,
		b:   testutil.NewEvents("dev-a"),
		d:   New(opts...),
		doc: domain.Empty(),
	}
}

// apply applies one event; on success the fixture's document advances.
func (f *fixture) apply(typ event.Type, entityID string, payload map[string]any) error {
	f.t.Helper()
	ev := f.b.Make(typ, entityID, payload)
	next, err := f.d.Apply(f.doc, ev)
	if err != nil {
		require.Nil(f.t, next)
		return err
	}
	f.doc = next
	return nil
}

func (f *fixture) must(typ event.Type, entityID string, payload map[string]any) {
	f.t.Helper()
	require.NoError(f.t, f.apply(typ, entityID, payload))
}

// seedAccount creates org-1 and acct-1 with floors 1..3.
func (f *fixture) seedAccount() {
	f.t.Helper()
	f.must(event.OrganizationCreated, "org-1", map[string]any{"name": "Acme"})
	f.must(event.AccountCreated, "acct-1", map[string]any{
		"organizationId": "org-1",
		"name":           "HQ",
		"minFloor":       1,
		"maxFloor":       3,
	})
}

func (f *fixture) account(id string) domain.Account {
	f.t.Helper()
	a, ok := f.doc.Accounts().Get(id)
	require.True(f.t, ok, "account %s", id)
	return a
}

func (f *fixture) audit(id string) domain.Audit {
	f.t.Helper()
	a, ok := f.doc.Audits().Get(id)
	require.True(f.t, ok, "audit %s", id)
	return a
}
