package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]dashboard.Snapshot
	fail  error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]dashboard.Snapshot)}
}

// FailWith makes every subsequent call return err; nil restores normal operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) Get(_ context.Context, hospitalID string) (dashboard.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return dashboard.Snapshot{}, false, s.fail
	}
	snap, ok := s.snaps[hospitalID]
	if !ok || snap.RebuiltAt.IsZero() {
		return dashboard.Snapshot{}, false, nil
	}
	return snap.Clone(), true, nil
}

func (s *MemoryStore) Put(_ context.Context, snap dashboard.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.snaps[snap.HospitalID] = snap.Clone()
	return nil
}

func (s *MemoryStore) ReadField(_ context.Context, hospitalID, field string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	snap, ok := s.snaps[hospitalID]
	if !ok {
		return 0, nil
	}
	fields := snapshotFields(snap)
	v, _ := fields[field].(int64)
	return v, nil
}

func (s *MemoryStore) WriteField(_ context.Context, hospitalID, field string, value int64, stamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	snap, ok := s.snaps[hospitalID]
	if !ok {
		snap = dashboard.Empty(hospitalID)
	}
	applyField(&snap, field, value)
	snap.LastUpdated = stamp.UTC()
	s.snaps[hospitalID] = snap
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *MemoryStore) Close() error { return nil }
