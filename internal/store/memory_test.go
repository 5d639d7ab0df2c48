package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLog_MatchesStoreSemantics(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog()
	events := sampleEvents()

	n, err := m.Append(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = m.Append(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events[0].ID, got[0].ID)

	// Load returns a copy.
	got[0].ID = "mutated"
	again, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, events[0].ID, again[0].ID)

	require.NoError(t, m.Replace(ctx, events[1:]))
	got, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err = m.Append(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryLog_Meta(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog()
	_, err := m.Meta(ctx, MetaDeviceID)
	assert.ErrorIs(t, err, ErrNoMetadata)

	require.NoError(t, m.SetMeta(ctx, MetaDeviceID, "dev"))
	v, err := m.Meta(ctx, MetaDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "dev", v)
}

func TestMemoryLog_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLog().Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
