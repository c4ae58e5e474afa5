package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloodlink/allocator/internal/ledger"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/jackc/pgx/v5"
)

// InRequest locks the request row with SELECT ... FOR UPDATE and runs fn in
// the same transaction. Concurrent decisions on one request queue behind the
// lock, which is what keeps a request to a single winner.
func (db *DB) InRequest(ctx context.Context, requestID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	lock := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1 FOR UPDATE`,
		requestColumns, db.SchemaTable("blood_requests"))

	return db.BeginFunc(ctx, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx, lock, requestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ledgermodels.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock request: %w", err)
		}

		return fn(ctx, &requestTx{db: db, tx: tx, req: req})
	})
}

type requestTx struct {
	db  *DB
	tx  pgx.Tx
	req ledgermodels.BloodRequest
}

func (t *requestTx) Request() ledgermodels.BloodRequest {
	return t.req
}

func (t *requestTx) Candidacy(ctx context.Context, hospitalID string) (ledgermodels.Candidacy, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1 AND hospital_id = $2`,
		candidacyColumns, t.db.SchemaTable("request_hospitals"))

	c, err := scanCandidacy(t.tx.QueryRow(ctx, query, t.req.RequestID, hospitalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ledgermodels.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("query candidacy: %w", err)
	}
	return c, nil
}

func (t *requestTx) CompareAndSetCandidacy(ctx context.Context, hospitalID string, from ledgermodels.Status, upd ledgermodels.CandidacyUpdate) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $3, reason = '', notes = $4, responded_at = $5, updated_at = $5
		WHERE request_id = $1 AND hospital_id = $2 AND status = $6
	`, t.db.SchemaTable("request_hospitals"))

	tag, err := t.tx.Exec(ctx, query, t.req.RequestID, hospitalID, string(upd.Status), upd.Notes, upd.At, string(from))
	if err != nil {
		return false, fmt.Errorf("update candidacy: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *requestTx) SupersedePending(ctx context.Context, winnerID string, reason ledgermodels.Reason, at time.Time) ([]string, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'rejected', reason = $3, updated_at = $4
		WHERE request_id = $1 AND hospital_id <> $2 AND status = 'pending'
		RETURNING hospital_id
	`, t.db.SchemaTable("request_hospitals"))

	rows, err := t.tx.Query(ctx, query, t.req.RequestID, winnerID, string(reason), at)
	if err != nil {
		return nil, fmt.Errorf("supersede candidacies: %w", err)
	}
	defer rows.Close()

	var hospitals []string
	for rows.Next() {
		var hid string
		if err := rows.Scan(&hid); err != nil {
			return nil, fmt.Errorf("scan superseded hospital: %w", err)
		}
		hospitals = append(hospitals, hid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return hospitals, nil
}

func (t *requestTx) CountNotRejected(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE request_id = $1 AND status <> 'rejected'`,
		t.db.SchemaTable("request_hospitals"))

	var n int
	if err := t.tx.QueryRow(ctx, query, t.req.RequestID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open candidacies: %w", err)
	}
	return n, nil
}

func (t *requestTx) SetRequestStatus(ctx context.Context, status ledgermodels.Status) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE request_id = $1`, t.db.SchemaTable("blood_requests"))
	if _, err := t.tx.Exec(ctx, query, t.req.RequestID, string(status)); err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	t.req.Status = status
	return nil
}

func (t *requestTx) ConsumeDonation(ctx context.Context, hospitalID, bloodID string, now time.Time) (ledgermodels.Donation, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'transferred', updated_at = $3
		WHERE blood_id = $1 AND hospital_id = $2 AND status = 'available' AND expiry_date > $3
		RETURNING blood_id, donor_id, hospital_id, blood_type, rh_factor, component_type, volume_ml, expiry_date
	`, t.db.SchemaTable("donations"))

	var (
		d         ledgermodels.Donation
		group, rh string
	)
	err := t.tx.QueryRow(ctx, query, bloodID, hospitalID, now).Scan(
		&d.BloodID, &d.DonorID, &d.HospitalID, &group, &rh, &d.Component, &d.VolumeML, &d.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, ledgermodels.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("consume donation: %w", err)
	}

	bt, err := ledgermodels.JoinBloodType(group, rh)
	if err != nil {
		return d, fmt.Errorf("donation %s: %w", bloodID, err)
	}
	d.BloodType = bt
	d.Status = ledgermodels.DonationTransferred
	return d, nil
}

func (t *requestTx) RecordTransfer(ctx context.Context, tr ledgermodels.Transfer) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (blood_id, request_id, hospital_id, notes, transfer_date)
		VALUES ($1, $2, $3, $4, $5)
	`, t.db.SchemaTable("transfers"))

	if _, err := t.tx.Exec(ctx, query, tr.BloodID, tr.RequestID, tr.HospitalID, tr.Notes, tr.At); err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

var _ ledger.Store = (*DB)(nil)
