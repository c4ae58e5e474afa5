package ledger

import (
	"context"
	"fmt"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// ListTransfers returns the hospital's transfers joined to their donation and
// request, newest first.
func (db *DB) ListTransfers(ctx context.Context, hospitalID string) ([]ledgermodels.TransferRecord, error) {
	query := fmt.Sprintf(`
		SELECT
			t.transfer_id, t.blood_id, t.request_id, t.hospital_id, t.notes,
			t.transfer_date, t.created_at,
			d.donor_id, d.blood_type, d.rh_factor, d.component_type, d.volume_ml,
			br.patient_name, br.blood_type, br.urgency
		FROM %s t
		LEFT JOIN %s d ON t.blood_id = d.blood_id
		LEFT JOIN %s br ON t.request_id = br.request_id
		WHERE t.hospital_id = $1
		ORDER BY t.transfer_date DESC, t.transfer_id DESC
	`, db.SchemaTable("transfers"), db.SchemaTable("donations"), db.SchemaTable("blood_requests"))

	rows, err := db.Query(ctx, query, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []ledgermodels.TransferRecord
	for rows.Next() {
		var (
			tr                              ledgermodels.TransferRecord
			group, rh, component            *string
			patient, requestedType, urgency *string
		)
		if err := rows.Scan(
			&tr.TransferID, &tr.BloodID, &tr.RequestID, &tr.HospitalID, &tr.Notes,
			&tr.At, &tr.CreatedAt,
			&tr.DonorID, &group, &rh, &component, &tr.VolumeML,
			&patient, &requestedType, &urgency,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}

		if group != nil && rh != nil {
			if bt, err := ledgermodels.JoinBloodType(*group, *rh); err == nil {
				tr.BloodType = bt
			}
		}
		if component != nil {
			tr.Component = *component
		}
		if patient != nil {
			tr.PatientName = *patient
		}
		if requestedType != nil {
			tr.RequestedBloodType = ledgermodels.BloodType(*requestedType)
		}
		if urgency != nil {
			tr.Urgency = ledgermodels.Urgency(*urgency)
		}
		out = append(out, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}
