// Package memory is an in-process ledger used for local runs and tests. It
// honours the same request-level serialization and rollback semantics as
// the Postgres ledger.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bloodlink/allocator/internal/ledger"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

var errClosed = errors.New("memory ledger closed")

// Donor is the minimal donor record the registry would own.
type Donor struct {
	DonorID    int64
	HospitalID string
}

// Store is a mutex-guarded ledger.
type Store struct {
	mu          sync.Mutex
	requests    map[string]ledgermodels.BloodRequest
	candidacies map[string]map[string]ledgermodels.Candidacy // request -> hospital -> candidacy
	donors      []Donor
	donations   map[string]ledgermodels.Donation
	transfers   []ledgermodels.Transfer
	closed      bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		requests:    make(map[string]ledgermodels.BloodRequest),
		candidacies: make(map[string]map[string]ledgermodels.Candidacy),
		donations:   make(map[string]ledgermodels.Donation),
	}
}

var _ ledger.Store = (*Store)(nil)

// AddDonor registers a donor at a hospital.
func (s *Store) AddDonor(d Donor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donors = append(s.donors, d)
}

// AddDonation records a collected unit. Status defaults to available.
func (s *Store) AddDonation(d ledgermodels.Donation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Status == "" {
		d.Status = ledgermodels.DonationAvailable
	}
	s.donations[d.BloodID] = d
}

// Donation returns a donation by id.
func (s *Store) Donation(bloodID string) (ledgermodels.Donation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[bloodID]
	return d, ok
}

// Transfers returns a copy of the recorded transfers.
func (s *Store) Transfers() []ledgermodels.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledgermodels.Transfer(nil), s.transfers...)
}

func (s *Store) CreateRequest(_ context.Context, req ledgermodels.BloodRequest, hospitalIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.requests[req.RequestID]; !ok {
		req.Status = ledgermodels.StatusPending
		s.requests[req.RequestID] = req
	}

	cands := s.candidacies[req.RequestID]
	if cands == nil {
		cands = make(map[string]ledgermodels.Candidacy)
		s.candidacies[req.RequestID] = cands
	}

	var assigned []string
	for _, hid := range hospitalIDs {
		if _, ok := cands[hid]; ok {
			continue
		}
		cands[hid] = ledgermodels.Candidacy{
			RequestID:  req.RequestID,
			HospitalID: hid,
			Status:     ledgermodels.StatusPending,
			CreatedAt:  req.CreatedAt,
			UpdatedAt:  req.CreatedAt,
		}
		assigned = append(assigned, hid)
	}
	return assigned, nil
}

func (s *Store) GetRequest(_ context.Context, requestID string) (ledgermodels.BloodRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return req, ledgermodels.ErrNotFound
	}
	return req, nil
}

func (s *Store) GetCandidacy(_ context.Context, requestID, hospitalID string) (ledgermodels.Candidacy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidacies[requestID][hospitalID]
	if !ok {
		return c, ledgermodels.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCandidacies(_ context.Context, requestID string) ([]ledgermodels.Candidacy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledgermodels.Candidacy, 0, len(s.candidacies[requestID]))
	for _, c := range s.candidacies[requestID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HospitalID < out[j].HospitalID })
	return out, nil
}

func (s *Store) ListHospitalRequests(_ context.Context, hospitalID string, status *ledgermodels.Status) ([]ledgermodels.HospitalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledgermodels.HospitalRequest
	for reqID, cands := range s.candidacies {
		c, ok := cands[hospitalID]
		if !ok || (status != nil && c.Status != *status) {
			continue
		}
		out = append(out, ledgermodels.HospitalRequest{
			BloodRequest:   s.requests[reqID],
			HospitalID:     hospitalID,
			HospitalStatus: c.Status,
			Reason:         c.Reason,
			Notes:          c.Notes,
			RespondedAt:    c.RespondedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Urgency.Rank(), out[j].Urgency.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListTransfers joins recorded transfers to donations and requests. A
// transfer's id is its position in commit order, starting at 1.
func (s *Store) ListTransfers(_ context.Context, hospitalID string) ([]ledgermodels.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledgermodels.TransferRecord
	for i, tr := range s.transfers {
		if tr.HospitalID != hospitalID {
			continue
		}
		rec := ledgermodels.TransferRecord{
			TransferID: int64(i + 1),
			Transfer:   tr,
			CreatedAt:  tr.At,
		}
		if d, ok := s.donations[tr.BloodID]; ok {
			donorID, volume := d.DonorID, d.VolumeML
			rec.DonorID = &donorID
			rec.BloodType = d.BloodType
			rec.Component = d.Component
			rec.VolumeML = &volume
		}
		if req, ok := s.requests[tr.RequestID]; ok {
			rec.PatientName = req.PatientName
			rec.RequestedBloodType = req.BloodType
			rec.Urgency = req.Urgency
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.After(out[j].At)
		}
		return out[i].TransferID > out[j].TransferID
	})
	return out, nil
}

// InRequest holds the store lock for the whole callback. Writes go to a
// staged copy that is only published when fn returns nil.
func (s *Store) InRequest(ctx context.Context, requestID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return ledgermodels.ErrNotFound
	}

	tx := &requestTx{
		req:       req,
		cands:     make(map[string]ledgermodels.Candidacy, len(s.candidacies[requestID])),
		donations: make(map[string]ledgermodels.Donation),
		store:     s,
	}
	for hid, c := range s.candidacies[requestID] {
		tx.cands[hid] = c
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.requests[requestID] = tx.req
	s.candidacies[requestID] = tx.cands
	for id, d := range tx.donations {
		s.donations[id] = d
	}
	s.transfers = append(s.transfers, tx.transfers...)
	return nil
}

func (s *Store) HospitalCounts(_ context.Context, hospitalID string) (ledgermodels.HospitalCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c ledgermodels.HospitalCounts
	for reqID, cands := range s.candidacies {
		cand, ok := cands[hospitalID]
		if !ok {
			continue
		}
		switch cand.Status {
		case ledgermodels.StatusPending:
			c.PendingRequests++
			if s.requests[reqID].Urgency.Urgent() {
				c.UrgentRequests++
			}
		case ledgermodels.StatusApproved:
			c.PendingTransfers++
		}
	}
	return c, nil
}

func (s *Store) Inventory(_ context.Context, hospitalID string, asOf time.Time) ([]ledgermodels.InventoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[ledgermodels.BloodType]*ledgermodels.InventoryRow)
	for _, d := range s.donations {
		if d.HospitalID != hospitalID || d.Status != ledgermodels.DonationAvailable || !d.ExpiresAt.After(asOf) {
			continue
		}
		row := byType[d.BloodType]
		if row == nil {
			row = &ledgermodels.InventoryRow{BloodType: d.BloodType}
			byType[d.BloodType] = row
		}
		row.VolumeML += d.VolumeML
		row.Units++
	}

	out := make([]ledgermodels.InventoryRow, 0, len(byType))
	for _, row := range byType {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BloodType < out[j].BloodType })
	return out, nil
}

func (s *Store) DonorCount(_ context.Context, hospitalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, d := range s.donors {
		if d.HospitalID == hospitalID {
			n++
		}
	}
	return n, nil
}

func (s *Store) HospitalIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, cands := range s.candidacies {
		for hid := range cands {
			seen[hid] = struct{}{}
		}
	}
	for _, d := range s.donors {
		seen[d.HospitalID] = struct{}{}
	}
	for _, d := range s.donations {
		seen[d.HospitalID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
