// Package cache holds the per-hospital dashboard snapshot store and the
// incremental mutator applied on every allocation transition.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/redis/go-redis/v9"
)

// Store keeps one snapshot per hospital.
type Store interface {
	// Get returns the cached snapshot. ok is false on a miss, including a
	// record that deltas created but no rebuild has completed.
	Get(ctx context.Context, hospitalID string) (snap dashboard.Snapshot, ok bool, err error)

	// Put replaces the hospital's snapshot wholesale.
	Put(ctx context.Context, snap dashboard.Snapshot) error

	// ReadField returns one integer field, 0 when absent.
	ReadField(ctx context.Context, hospitalID, field string) (int64, error)

	// WriteField stores one integer field and stamps lastUpdated.
	WriteField(ctx context.Context, hospitalID, field string, value int64, stamp time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

const (
	inventoryFieldPrefix = "bloodInventory:"
	lastUpdatedField     = "lastUpdated"
	rebuiltAtField       = "rebuiltAt"
)

// InventoryField addresses the bloodInventory entry for one blood type.
func InventoryField(bt ledgermodels.BloodType) string {
	return inventoryFieldPrefix + string(bt)
}

// WriteError is a failed cache mutation. Callers on the decision path log
// and drop it.
type WriteError struct {
	HospitalID string
	Field      string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write %s/%s: %v", e.HospitalID, e.Field, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// snapshotFields flattens a snapshot into hash fields.
func snapshotFields(snap dashboard.Snapshot) map[string]any {
	fields := make(map[string]any, len(dashboard.Counters)+len(snap.BloodInventory)+1)
	for _, c := range dashboard.Counters {
		fields[string(c)] = snap.Get(c)
	}
	for bt, v := range snap.BloodInventory {
		fields[InventoryField(bt)] = v
	}
	fields[lastUpdatedField] = snap.LastUpdated.UnixMilli()
	if !snap.RebuiltAt.IsZero() {
		fields[rebuiltAtField] = snap.RebuiltAt.UnixMilli()
	}
	return fields
}

// applyField sets a flattened field on snap. Unknown fields are ignored.
func applyField(snap *dashboard.Snapshot, field string, v int64) {
	switch {
	case field == lastUpdatedField:
		snap.LastUpdated = time.UnixMilli(v).UTC()
	case field == rebuiltAtField:
		snap.RebuiltAt = time.UnixMilli(v).UTC()
	case strings.HasPrefix(field, inventoryFieldPrefix):
		bt, err := ledgermodels.ParseBloodType(strings.TrimPrefix(field, inventoryFieldPrefix))
		if err != nil {
			return
		}
		snap.BloodInventory[bt] = v
	default:
		snap.Set(dashboard.Counter(field), v)
	}
}

// Open returns the store for driver. client may be nil for the memory driver.
func Open(driver string, client redis.UniversalClient, prefix string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis cache requires a client")
		}
		return NewRedisStore(client, prefix), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", driver)
}
