package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDeltaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMutator(store)

	require.NoError(t, store.Put(ctx, seeded("H1", 3)))

	v, err := m.ApplyDelta(ctx, "H1", dashboard.PendingRequests, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = m.ApplyDelta(ctx, "H1", dashboard.PendingRequests, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	snap, ok, err := store.Get(ctx, "H1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.PendingRequests)
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMutator(store)

	for _, c := range dashboard.Counters {
		v, err := m.ApplyDelta(ctx, "H1", c, -1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v, c)
	}

	v, err := m.ApplyVolumeDelta(ctx, "H1", ledgermodels.ONeg, -450)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestApplyVolumeDelta(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMutator(store)

	snap := seeded("H1", 0)
	snap.BloodInventory[ledgermodels.APos] = 900
	require.NoError(t, store.Put(ctx, snap))

	v, err := m.ApplyVolumeDelta(ctx, "H1", ledgermodels.APos, -450)
	require.NoError(t, err)
	assert.Equal(t, int64(450), v)

	_, err = m.ApplyVolumeDelta(ctx, "H1", ledgermodels.BloodType("Z+"), 1)
	assert.Error(t, err)
}

func TestApplyDeltaRejectsUnknownCounter(t *testing.T) {
	m := NewMutator(NewMemoryStore())
	_, err := m.ApplyDelta(context.Background(), "H1", dashboard.Counter("bogus"), 1)
	assert.Error(t, err)
}

func TestApplyDeltaWrapsStoreErrors(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("unreachable")
	store.FailWith(boom)

	_, err := NewMutator(store).ApplyDelta(context.Background(), "H1", dashboard.PendingTransfers, 1)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "H1", werr.HospitalID)
	assert.Equal(t, string(dashboard.PendingTransfers), werr.Field)
	assert.ErrorIs(t, err, boom)
}

func TestDeltaOnlySnapshotIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := NewMutator(store).ApplyDelta(ctx, "H9", dashboard.PendingRequests, 1)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "H9")
	require.NoError(t, err)
	assert.False(t, ok)
}
