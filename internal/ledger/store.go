// Package ledger defines the authoritative store behind allocation: blood
// requests, their candidacies, and the read-only donor and inventory data
// the dashboard aggregates.
package ledger

import (
	"context"
	"time"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// Store is implemented by the Postgres ledger and the in-memory ledger.
type Store interface {
	// CreateRequest inserts req and one pending candidacy per hospital.
	// Hospitals that already hold a candidacy are skipped; the returned
	// slice lists the hospitals that were newly assigned.
	CreateRequest(ctx context.Context, req ledgermodels.BloodRequest, hospitalIDs []string) ([]string, error)

	GetRequest(ctx context.Context, requestID string) (ledgermodels.BloodRequest, error)
	GetCandidacy(ctx context.Context, requestID, hospitalID string) (ledgermodels.Candidacy, error)
	ListCandidacies(ctx context.Context, requestID string) ([]ledgermodels.Candidacy, error)

	// ListHospitalRequests returns the hospital's inbox ordered by urgency,
	// then newest first. A nil status returns every candidacy.
	ListHospitalRequests(ctx context.Context, hospitalID string, status *ledgermodels.Status) ([]ledgermodels.HospitalRequest, error)

	// ListTransfers returns the hospital's transfer history, newest first.
	ListTransfers(ctx context.Context, hospitalID string) ([]ledgermodels.TransferRecord, error)

	// InRequest runs fn in a single transaction holding an exclusive lock on
	// the request, so concurrent decisions on the same request serialize.
	// Returns ErrNotFound when the request does not exist. If fn returns an
	// error nothing fn wrote is kept.
	InRequest(ctx context.Context, requestID string, fn func(ctx context.Context, tx Tx) error) error

	Source

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the request-scoped view handed to InRequest callbacks.
type Tx interface {
	// Request returns the locked request as it was when the lock was taken,
	// plus any status change made through this Tx.
	Request() ledgermodels.BloodRequest

	Candidacy(ctx context.Context, hospitalID string) (ledgermodels.Candidacy, error)

	// CompareAndSetCandidacy moves the hospital's candidacy to upd.Status only
	// if it is currently in from. It reports whether the swap happened.
	CompareAndSetCandidacy(ctx context.Context, hospitalID string, from ledgermodels.Status, upd ledgermodels.CandidacyUpdate) (bool, error)

	// SupersedePending rejects every other pending candidacy of the request
	// with reason and returns the affected hospitals.
	SupersedePending(ctx context.Context, winnerID string, reason ledgermodels.Reason, at time.Time) ([]string, error)

	// CountNotRejected counts candidacies of the request whose status is not rejected.
	CountNotRejected(ctx context.Context) (int, error)

	SetRequestStatus(ctx context.Context, status ledgermodels.Status) error

	// ConsumeDonation marks an available, unexpired donation owned by the
	// hospital as transferred and returns it.
	ConsumeDonation(ctx context.Context, hospitalID, bloodID string, now time.Time) (ledgermodels.Donation, error)

	RecordTransfer(ctx context.Context, t ledgermodels.Transfer) error
}

// Source is the read side a dashboard rebuild draws from.
type Source interface {
	HospitalCounts(ctx context.Context, hospitalID string) (ledgermodels.HospitalCounts, error)
	Inventory(ctx context.Context, hospitalID string, asOf time.Time) ([]ledgermodels.InventoryRow, error)
	DonorCount(ctx context.Context, hospitalID string) (int64, error)

	// HospitalIDs lists every hospital with candidacies, donors or donations.
	HospitalIDs(ctx context.Context) ([]string, error)
}
