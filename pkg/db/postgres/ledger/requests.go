package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/jackc/pgx/v5"
)

const requestColumns = `request_id, requester_id, patient_name, blood_type, urgency, units_needed, status, created_at`

// CreateRequest inserts the request and a pending candidacy for each hospital
// in one transaction. Existing candidacies are left untouched.
func (db *DB) CreateRequest(ctx context.Context, req ledgermodels.BloodRequest, hospitalIDs []string) ([]string, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	insertRequest := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO NOTHING
	`, db.SchemaTable("blood_requests"), requestColumns)

	insertCandidacy := fmt.Sprintf(`
		INSERT INTO %s (request_id, hospital_id, status, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $3)
		ON CONFLICT (request_id, hospital_id) DO NOTHING
		RETURNING hospital_id
	`, db.SchemaTable("request_hospitals"))

	var assigned []string
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		assigned = assigned[:0]
		if _, err := tx.Exec(ctx, insertRequest,
			req.RequestID, req.RequesterID, req.PatientName, string(req.BloodType),
			string(req.Urgency), req.UnitsNeeded, string(ledgermodels.StatusPending), req.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}

		for _, hid := range hospitalIDs {
			var got string
			err := tx.QueryRow(ctx, insertCandidacy, req.RequestID, hid, req.CreatedAt).Scan(&got)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert candidacy %s: %w", hid, err)
			}
			assigned = append(assigned, got)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return assigned, nil
}

// GetRequest loads a single request.
func (db *DB) GetRequest(ctx context.Context, requestID string) (ledgermodels.BloodRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1`, requestColumns, db.SchemaTable("blood_requests"))
	req, err := scanRequest(db.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return req, ledgermodels.ErrNotFound
	}
	if err != nil {
		return req, fmt.Errorf("query request: %w", err)
	}
	return req, nil
}

// ListHospitalRequests returns the hospital's candidacies joined with their requests.
func (db *DB) ListHospitalRequests(ctx context.Context, hospitalID string, status *ledgermodels.Status) ([]ledgermodels.HospitalRequest, error) {
	query := fmt.Sprintf(`
		SELECT
			br.request_id, br.requester_id, br.patient_name, br.blood_type, br.urgency,
			br.units_needed, br.status, br.created_at,
			rh.hospital_id, rh.status, rh.reason, rh.notes, rh.responded_at
		FROM %s br
		INNER JOIN %s rh ON br.request_id = rh.request_id
		WHERE rh.hospital_id = $1
		  AND ($2::text IS NULL OR rh.status = $2)
		ORDER BY
			CASE br.urgency
				WHEN 'critical' THEN 1
				WHEN 'urgent' THEN 2
				WHEN 'routine' THEN 3
				ELSE 4
			END,
			br.created_at DESC
	`, db.SchemaTable("blood_requests"), db.SchemaTable("request_hospitals"))

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	rows, err := db.Query(ctx, query, hospitalID, statusArg)
	if err != nil {
		return nil, fmt.Errorf("query hospital requests: %w", err)
	}
	defer rows.Close()

	var out []ledgermodels.HospitalRequest
	for rows.Next() {
		var (
			hr                                        ledgermodels.HospitalRequest
			bloodType, urgency, reqStatus, hStatus, r string
		)
		if err := rows.Scan(
			&hr.RequestID, &hr.RequesterID, &hr.PatientName, &bloodType, &urgency,
			&hr.UnitsNeeded, &reqStatus, &hr.CreatedAt,
			&hr.HospitalID, &hStatus, &r, &hr.Notes, &hr.RespondedAt,
		); err != nil {
			return nil, fmt.Errorf("scan hospital request: %w", err)
		}
		hr.BloodType = ledgermodels.BloodType(bloodType)
		hr.Urgency = ledgermodels.Urgency(urgency)
		hr.Status = ledgermodels.Status(reqStatus)
		hr.HospitalStatus = ledgermodels.Status(hStatus)
		hr.Reason = ledgermodels.Reason(r)
		out = append(out, hr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

func scanRequest(row pgx.Row) (ledgermodels.BloodRequest, error) {
	var (
		req                       ledgermodels.BloodRequest
		bloodType, urgency, state string
	)
	err := row.Scan(&req.RequestID, &req.RequesterID, &req.PatientName, &bloodType, &urgency,
		&req.UnitsNeeded, &state, &req.CreatedAt)
	req.BloodType = ledgermodels.BloodType(bloodType)
	req.Urgency = ledgermodels.Urgency(urgency)
	req.Status = ledgermodels.Status(state)
	return req, err
}
