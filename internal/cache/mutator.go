package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// Mutator applies small deltas to single snapshot fields without reading the
// ledger. Each call is an unguarded read-modify-write: two concurrent deltas
// on the same field can lose one update. A rebuild restores the true value.
type Mutator struct {
	store Store
	now   func() time.Time
}

// NewMutator returns a Mutator writing to store.
func NewMutator(store Store) *Mutator {
	return &Mutator{store: store, now: time.Now}
}

// ApplyDelta adds delta to counter, clamping at zero, and returns the value written.
func (m *Mutator) ApplyDelta(ctx context.Context, hospitalID string, counter dashboard.Counter, delta int64) (int64, error) {
	if !counter.Valid() {
		return 0, fmt.Errorf("unknown dashboard counter %q", counter)
	}
	return m.apply(ctx, hospitalID, string(counter), delta)
}

// ApplyVolumeDelta adds delta millilitres to the bloodInventory entry for bt,
// clamping at zero, and returns the value written.
func (m *Mutator) ApplyVolumeDelta(ctx context.Context, hospitalID string, bt ledgermodels.BloodType, delta int64) (int64, error) {
	if _, err := ledgermodels.ParseBloodType(string(bt)); err != nil {
		return 0, err
	}
	return m.apply(ctx, hospitalID, InventoryField(bt), delta)
}

func (m *Mutator) apply(ctx context.Context, hospitalID, field string, delta int64) (int64, error) {
	cur, err := m.store.ReadField(ctx, hospitalID, field)
	if err != nil {
		return 0, &WriteError{HospitalID: hospitalID, Field: field, Err: err}
	}

	next := cur + delta
	if next < 0 {
		next = 0
	}

	if err := m.store.WriteField(ctx, hospitalID, field, next, m.now()); err != nil {
		return 0, &WriteError{HospitalID: hospitalID, Field: field, Err: err}
	}
	return next, nil
}
