package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/reducer"
	"github.com/roach88/crmorbit/internal/store"
	"github.com/roach88/crmorbit/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openEngine(t *testing.T, log EventLog, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithDeviceID("dev-a"),
		WithClock(testutil.NewClock()),
	}, opts...)
	e, err := Open(context.Background(), log, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func at(sec int) time.Time {
	return testutil.Epoch.Add(time.Duration(sec) * time.Second)
}

func TestOpen_ReplaysLog(t *testing.T) {
	log := store.NewMemoryLog(
		testutil.Event("b-2", event.AccountCreated, "acct-1", at(2), map[string]any{"organizationId": "org-1", "name": "HQ"}),
		testutil.Event("a-1", event.OrganizationCreated, "org-1", at(1), map[string]any{"name": "Acme"}),
	)
	e := openEngine(t, log)

	assert.Equal(t, 2, e.Len())
	assert.True(t, e.Document().Accounts().Has("acct-1"))
	assert.Equal(t, "a-1", e.Events()[0].ID, "events are held in replay order")
}

func TestOpen_KeepsRejectedEvents(t *testing.T) {
	log := store.NewMemoryLog(
		testutil.Event("a-1", event.OrganizationUpdated, "org-404", at(1), map[string]any{"name": "x"}),
	)
	e := openEngine(t, log)

	assert.Equal(t, 1, e.Len())
	assert.Equal(t, 0, e.Document().Organizations().Len())
}

func TestOpen_LoadError(t *testing.T) {
	_, err := Open(context.Background(), &failingLog{loadErr: errors.New("disk gone")}, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestEmit_AppendsAndApplies(t *testing.T) {
	log := store.NewMemoryLog()
	e := openEngine(t, log)
	ctx := context.Background()

	ev, err := e.Emit(ctx, event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	assert.Equal(t, "dev-a", ev.DeviceID)
	assert.Equal(t, "dev-a-1709542800000-000001", ev.ID)

	org, ok := e.Document().Organizations().Get("org-1")
	require.True(t, ok)
	assert.Equal(t, "Acme", org.Name)

	stored, err := log.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, ev.ID, stored[0].ID)
}

func TestDispatch_RejectionWritesNothing(t *testing.T) {
	log := store.NewMemoryLog()
	e := openEngine(t, log)
	ctx := context.Background()

	_, err := e.Emit(ctx, event.AccountCreated, "acct-1", testutil.Payload(map[string]any{
		"organizationId": "org-404",
		"name":           "HQ",
	}))
	require.Error(t, err)
	assert.True(t, reducer.IsReferenceNotFound(err))

	stored, err := log.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, 0, e.Len())
}

func TestDispatch_DuplicateID(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ctx := context.Background()

	ev := testutil.Event("a-1", event.OrganizationCreated, "org-1", at(1), map[string]any{"name": "Acme"})
	_, err := e.Dispatch(ctx, ev)
	require.NoError(t, err)

	_, err = e.Dispatch(ctx, ev)
	assert.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestDispatch_OutOfOrderReplays(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ctx := context.Background()

	_, err := e.Dispatch(ctx, testutil.Event("a-2", event.OrganizationCreated, "org-1", at(10), map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	doc, err := e.Dispatch(ctx, testutil.Event("b-1", event.OrganizationCreated, "org-2", at(5), map[string]any{"name": "Beta"}))
	require.NoError(t, err)

	assert.True(t, doc.Organizations().Has("org-1"))
	assert.True(t, doc.Organizations().Has("org-2"))

	events := e.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b-1", events[0].ID)
	assert.Equal(t, "a-2", events[1].ID)
}

func TestDispatch_OutOfOrderRejection(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ctx := context.Background()

	_, err := e.Dispatch(ctx, testutil.Event("a-2", event.OrganizationCreated, "org-1", at(10), map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	// Sorted before org-1 exists.
	_, err = e.Dispatch(ctx, testutil.Event("b-1", event.OrganizationUpdated, "org-1", at(5), map[string]any{"name": "Early"}))
	require.Error(t, err)
	assert.True(t, reducer.IsNotFound(err))
	assert.Equal(t, 1, e.Len())
}

func TestDispatch_OutOfOrderInvalidatesLaterEvents(t *testing.T) {
	log := store.NewMemoryLog()
	e := openEngine(t, log)
	ctx := context.Background()

	_, err := e.Dispatch(ctx, testutil.Event("a-1", event.OrganizationCreated, "org-1", at(5), map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, testutil.Event("a-2", event.AccountCreated, "acct-1", at(10), map[string]any{"organizationId": "org-1", "name": "HQ"}))
	require.NoError(t, err)

	// The delete is valid at its own position but would reject acct-1.
	_, err = e.Dispatch(ctx, testutil.Event("b-1", event.OrganizationDeleted, "org-1", at(7), nil))
	require.Error(t, err)
	var re *reducer.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, reducer.CodeDependencyExists, re.Code)
	assert.Equal(t, "b-1", re.EventID)
	assert.Equal(t, []string{"event:a-2"}, re.Details)

	assert.Equal(t, 2, e.Len())
	assert.True(t, e.Document().Accounts().Has("acct-1"))
	stored, err := log.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestDispatch_OutOfOrderIgnoresEarlierRejections(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog(
		testutil.Event("a-1", event.OrganizationUpdated, "org-404", at(1), map[string]any{"name": "x"}),
		testutil.Event("a-2", event.OrganizationCreated, "org-1", at(10), map[string]any{"name": "Acme"}),
	))

	doc, err := e.Dispatch(context.Background(), testutil.Event("b-1", event.OrganizationCreated, "org-2", at(5), map[string]any{"name": "Beta"}))
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Organizations().Len())
	assert.Equal(t, 3, e.Len())
}

func TestDispatch_AppendFailureKeepsState(t *testing.T) {
	log := &failingLog{appendErr: errors.New("read-only")}
	e := openEngine(t, log)

	_, err := e.Emit(context.Background(), event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
	assert.Equal(t, 0, e.Document().Organizations().Len())
}

func TestMerge_AppendsOnlyNewEvents(t *testing.T) {
	log := store.NewMemoryLog()
	e := openEngine(t, log)
	ctx := context.Background()

	local, err := e.Emit(ctx, event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	remote := []event.Event{
		local,
		testutil.Event("b-1", event.AccountCreated, "acct-1", local.Timestamp.Add(time.Minute), map[string]any{
			"organizationId": "org-1",
			"name":           "HQ",
		}),
	}
	res, err := e.Merge(ctx, remote)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Added)
	assert.Empty(t, res.Rejections)
	assert.True(t, e.Document().Accounts().Has("acct-1"))

	stored, err := log.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestMerge_NothingNew(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ctx := context.Background()

	ev, err := e.Emit(ctx, event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	before := e.Document()

	res, err := e.Merge(ctx, []event.Event{ev})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Same(t, before, e.Document())
}

func TestMerge_RemoteConflictWinnerRewritesLog(t *testing.T) {
	local := testutil.Event("a-1", event.OrganizationCreated, "org-1", at(1), map[string]any{"name": "Acme"})
	localDigest, err := local.Digest()
	require.NoError(t, err)

	// Find a conflicting copy that sorts first by digest.
	var remote event.Event
	for i := 0; ; i++ {
		remote = testutil.Event("a-1", event.OrganizationCreated, "org-1", at(1), map[string]any{"name": fmt.Sprintf("Acme %d", i)})
		d, err := remote.Digest()
		require.NoError(t, err)
		if d < localDigest {
			break
		}
	}

	log := store.NewMemoryLog(local)
	e := openEngine(t, log)
	ctx := context.Background()

	res, err := e.Merge(ctx, []event.Event{remote})
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Equal(t, 1, res.Displaced)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, remote, res.Conflicts[0].Kept)

	want, _ := remote.Payload.Str("name")
	org, ok := e.Document().Organizations().Get("org-1")
	require.True(t, ok)
	assert.Equal(t, want, org.Name)

	stored, err := log.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []event.Event{remote}, stored)

	// The losing copy arriving again changes nothing.
	before := e.Document()
	res, err = e.Merge(ctx, []event.Event{local})
	require.NoError(t, err)
	assert.Zero(t, res.Displaced)
	assert.Same(t, before, e.Document())
}

func TestMerge_KeepsRejectedRemoteEvents(t *testing.T) {
	log := store.NewMemoryLog()
	e := openEngine(t, log)
	ctx := context.Background()

	res, err := e.Merge(ctx, []event.Event{
		testutil.Event("b-1", event.ContactDeleted, "ct-9", at(1), nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	require.Len(t, res.Rejections, 1)
	assert.True(t, reducer.IsNotFound(res.Rejections[0].Err))
	assert.Equal(t, 1, e.Len())
}

func TestReplace_SwapsLog(t *testing.T) {
	log := store.NewMemoryLog()
	e := openEngine(t, log)
	ctx := context.Background()

	_, err := e.Emit(ctx, event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	res, err := e.Replace(ctx, []event.Event{
		testutil.Event("b-1", event.OrganizationCreated, "org-2", at(1), map[string]any{"name": "Beta"}),
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)

	assert.False(t, e.Document().Organizations().Has("org-1"))
	assert.True(t, e.Document().Organizations().Has("org-2"))

	stored, err := log.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "b-1", stored[0].ID)
}

func TestGeneratorResumesCounter(t *testing.T) {
	b := testutil.NewEvents("dev-a")
	log := store.NewMemoryLog(
		b.Make(event.OrganizationCreated, "org-1", map[string]any{"name": "Acme"}),
		b.Make(event.OrganizationUpdated, "org-1", map[string]any{"name": "Acme Inc"}),
	)

	clock := testutil.NewStepClock(at(60), time.Second)
	e := openEngine(t, log, WithClock(clock))

	ev, err := e.Emit(context.Background(), event.OrganizationUpdated, "org-1", testutil.Payload(map[string]any{"website": "acme.test"}))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ev.ID, "-000003"), ev.ID)
}

func TestChanges_Signaled(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ch, cancel := e.Changes()
	defer cancel()

	_, err := e.Emit(context.Background(), event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	select {
	case _, ok := <-ch:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
}

func TestChanges_Coalesce(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ch, cancel := e.Changes()
	defer cancel()
	ctx := context.Background()

	for _, id := range []string{"org-1", "org-2", "org-3"} {
		_, err := e.Emit(ctx, event.OrganizationCreated, id, testutil.Payload(map[string]any{"name": id}))
		require.NoError(t, err)
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestChanges_CancelIdempotent(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ch, cancel := e.Changes()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ch, cancel := e.Changes()
	defer cancel()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, ok := <-ch
	assert.False(t, ok, "subscribers are released")

	_, err := e.Emit(context.Background(), event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Merge(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentEmit(t *testing.T) {
	e := openEngine(t, store.NewMemoryLog())
	ctx := context.Background()

	_, err := e.Emit(ctx, event.OrganizationCreated, "org-1", testutil.Payload(map[string]any{"name": "Acme"}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Emit(ctx, event.OrganizationUpdated, "org-1", testutil.Payload(map[string]any{"website": "acme.test"}))
			_ = e.Document()
		}()
	}
	wg.Wait()

	assert.Equal(t, 21, e.Len())
}

func TestVerifyReplay(t *testing.T) {
	b := testutil.NewEvents("dev-a")
	log := store.NewMemoryLog(
		b.Make(event.OrganizationCreated, "org-1", map[string]any{"name": "Acme"}),
		b.Make(event.OrganizationUpdated, "org-404", map[string]any{"name": "x"}),
	)

	report, err := VerifyReplay(context.Background(), log, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Events)
	assert.Len(t, report.Rejected, 1)
	assert.NotEmpty(t, report.Hash)

	e := openEngine(t, log)
	want, err := e.Document().Hash()
	require.NoError(t, err)
	assert.Equal(t, want, report.Hash)
}

// failingLog is an EventLog whose operations fail on demand.
type failingLog struct {
	loadErr   error
	appendErr error
}

func (f *failingLog) Load(context.Context) ([]event.Event, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return nil, nil
}

func (f *failingLog) Append(context.Context, []event.Event) (int, error) {
	return 0, f.appendErr
}

func (f *failingLog) Replace(context.Context, []event.Event) error {
	return f.appendErr
}
