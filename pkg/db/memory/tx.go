package memory

import (
	"context"
	"sort"
	"time"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// requestTx runs under Store.mu; it reads committed donations through store
// and stages every write locally.
type requestTx struct {
	store     *Store
	req       ledgermodels.BloodRequest
	cands     map[string]ledgermodels.Candidacy
	donations map[string]ledgermodels.Donation
	transfers []ledgermodels.Transfer
}

func (t *requestTx) Request() ledgermodels.BloodRequest {
	return t.req
}

func (t *requestTx) Candidacy(_ context.Context, hospitalID string) (ledgermodels.Candidacy, error) {
	c, ok := t.cands[hospitalID]
	if !ok {
		return c, ledgermodels.ErrNotFound
	}
	return c, nil
}

func (t *requestTx) CompareAndSetCandidacy(_ context.Context, hospitalID string, from ledgermodels.Status, upd ledgermodels.CandidacyUpdate) (bool, error) {
	c, ok := t.cands[hospitalID]
	if !ok || c.Status != from {
		return false, nil
	}
	at := upd.At
	c.Status = upd.Status
	c.Reason = ledgermodels.ReasonNone
	c.Notes = upd.Notes
	c.RespondedAt = &at
	c.UpdatedAt = at
	t.cands[hospitalID] = c
	return true, nil
}

func (t *requestTx) SupersedePending(_ context.Context, winnerID string, reason ledgermodels.Reason, at time.Time) ([]string, error) {
	var hospitals []string
	for hid, c := range t.cands {
		if hid == winnerID || c.Status != ledgermodels.StatusPending {
			continue
		}
		c.Status = ledgermodels.StatusRejected
		c.Reason = reason
		c.UpdatedAt = at
		t.cands[hid] = c
		hospitals = append(hospitals, hid)
	}
	sort.Strings(hospitals)
	return hospitals, nil
}

func (t *requestTx) CountNotRejected(context.Context) (int, error) {
	n := 0
	for _, c := range t.cands {
		if c.Status != ledgermodels.StatusRejected {
			n++
		}
	}
	return n, nil
}

func (t *requestTx) SetRequestStatus(_ context.Context, status ledgermodels.Status) error {
	t.req.Status = status
	return nil
}

func (t *requestTx) ConsumeDonation(_ context.Context, hospitalID, bloodID string, now time.Time) (ledgermodels.Donation, error) {
	d, staged := t.donations[bloodID]
	if !staged {
		var ok bool
		d, ok = t.store.donations[bloodID]
		if !ok {
			return d, ledgermodels.ErrNotFound
		}
	}
	if d.HospitalID != hospitalID || d.Status != ledgermodels.DonationAvailable || !d.ExpiresAt.After(now) {
		return ledgermodels.Donation{}, ledgermodels.ErrNotFound
	}
	d.Status = ledgermodels.DonationTransferred
	t.donations[bloodID] = d
	return d, nil
}

func (t *requestTx) RecordTransfer(_ context.Context, tr ledgermodels.Transfer) error {
	t.transfers = append(t.transfers, tr)
	return nil
}
