package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/testutil"
	"github.com/roach88/crmorbit/internal/value"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEvents() []event.Event {
	t0 := testutil.Epoch
	return []event.Event{
		testutil.Event("dev-0002", event.OrganizationCreated, "org-1", t0.Add(time.Second), map[string]any{"name": "Acme"}),
		testutil.Event("dev-0001", event.AccountCreated, "acct-1", t0, map[string]any{
			"organizationId": "org-1", "name": "HQ", "minFloor": 1, "maxFloor": 9007199254740993,
		}),
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestOpen_RecordsSchemaVersion(t *testing.T) {
	s := createTestStore(t)
	v, err := s.Meta(context.Background(), MetaSchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestAppend_LoadPreservesAppendOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	events := sampleEvents()

	n, err := s.Append(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dev-0002", got[0].ID)
	assert.Equal(t, "dev-0001", got[1].ID)

	for i := range events {
		want, err := events[i].Canonical()
		require.NoError(t, err)
		have, err := got[i].Canonical()
		require.NoError(t, err)
		assert.Equal(t, string(want), string(have))
	}
	assert.Equal(t, value.Int(9007199254740993), got[1].Payload["maxFloor"])
}

func TestAppend_SkipsDuplicateIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	events := sampleEvents()

	_, err := s.Append(ctx, events)
	require.NoError(t, err)
	n, err := s.Append(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLoad_EmptyIsNonNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReplace_SwapsLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, sampleEvents())
	require.NoError(t, err)

	replacement := []event.Event{
		testutil.Event("x-0001", event.SettingsUpdated, "", testutil.Epoch, map[string]any{"key": "k", "value": true}),
	}
	require.NoError(t, s.Replace(ctx, replacement))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x-0001", got[0].ID)
}

func TestDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	events := sampleEvents()
	_, err := s.Append(ctx, events)
	require.NoError(t, err)

	want, err := events[0].Digest()
	require.NoError(t, err)
	got, ok, err := s.Digest(ctx, events[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = s.Digest(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopen_KeepsEventsAndMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Append(ctx, sampleEvents())
	require.NoError(t, err)
	id, err := s1.EnsureDeviceID(ctx, "", func() string { return "generated-1" })
	require.NoError(t, err)
	assert.Equal(t, "generated-1", id)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	id, err = s2.EnsureDeviceID(ctx, "", func() string { return "generated-2" })
	require.NoError(t, err)
	assert.Equal(t, "generated-1", id)
}

func TestEnsureDeviceID_PreferredWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.EnsureDeviceID(ctx, "", func() string { return "gen" })
	require.NoError(t, err)
	assert.Equal(t, "gen", id)

	id, err = s.EnsureDeviceID(ctx, "configured", func() string { return "unused" })
	require.NoError(t, err)
	assert.Equal(t, "configured", id)

	stored, err := s.Meta(ctx, MetaDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "configured", stored)
}

func TestMeta_Missing(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Meta(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoMetadata)
}
