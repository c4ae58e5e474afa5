package ledger

import (
	"context"
	"fmt"
	"time"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"go.uber.org/zap"
)

// HospitalCounts aggregates the hospital's candidacies for a dashboard rebuild.
func (db *DB) HospitalCounts(ctx context.Context, hospitalID string) (ledgermodels.HospitalCounts, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(DISTINCT br.request_id) FILTER (WHERE rh.status = 'pending'),
			COUNT(DISTINCT br.request_id) FILTER (WHERE rh.status = 'pending' AND br.urgency IN ('critical', 'urgent')),
			COUNT(DISTINCT br.request_id) FILTER (WHERE rh.status = 'approved')
		FROM %s br
		INNER JOIN %s rh ON br.request_id = rh.request_id
		WHERE rh.hospital_id = $1
	`, db.SchemaTable("blood_requests"), db.SchemaTable("request_hospitals"))

	var c ledgermodels.HospitalCounts
	if err := db.QueryRow(ctx, query, hospitalID).Scan(&c.PendingRequests, &c.UrgentRequests, &c.PendingTransfers); err != nil {
		return c, fmt.Errorf("query hospital counts: %w", err)
	}
	return c, nil
}

// Inventory sums available, unexpired donations by blood type.
func (db *DB) Inventory(ctx context.Context, hospitalID string, asOf time.Time) ([]ledgermodels.InventoryRow, error) {
	query := fmt.Sprintf(`
		SELECT blood_type, rh_factor, COALESCE(SUM(volume_ml), 0), COUNT(*)
		FROM %s
		WHERE hospital_id = $1
		  AND status = 'available'
		  AND expiry_date > $2
		GROUP BY blood_type, rh_factor
		ORDER BY blood_type, rh_factor
	`, db.SchemaTable("donations"))

	rows, err := db.Query(ctx, query, hospitalID, asOf)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var out []ledgermodels.InventoryRow
	for rows.Next() {
		var (
			group, rh string
			row       ledgermodels.InventoryRow
		)
		if err := rows.Scan(&group, &rh, &row.VolumeML, &row.Units); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		bt, err := ledgermodels.JoinBloodType(group, rh)
		if err != nil {
			db.Logger.Warn("skipping donations with unknown blood type",
				zap.String("hospital_id", hospitalID),
				zap.String("blood_type", group),
				zap.String("rh_factor", rh),
			)
			continue
		}
		row.BloodType = bt
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// DonorCount counts donors registered at the hospital.
func (db *DB) DonorCount(ctx context.Context, hospitalID string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE hospital_id = $1`, db.SchemaTable("donors"))

	var n int64
	if err := db.QueryRow(ctx, query, hospitalID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count donors: %w", err)
	}
	return n, nil
}

// HospitalIDs lists every hospital that appears in the ledger or inventory.
func (db *DB) HospitalIDs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT hospital_id FROM %s
		UNION
		SELECT hospital_id FROM %s
		UNION
		SELECT hospital_id FROM %s
		ORDER BY 1
	`, db.SchemaTable("request_hospitals"), db.SchemaTable("donors"), db.SchemaTable("donations"))

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query hospital ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan hospital id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}
