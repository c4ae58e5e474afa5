package ledger

import (
	"context"
	"errors"
	"fmt"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/jackc/pgx/v5"
)

const candidacyColumns = `request_id, hospital_id, status, reason, notes, responded_at, created_at, updated_at`

// GetCandidacy loads the candidacy for one (request, hospital) pair.
func (db *DB) GetCandidacy(ctx context.Context, requestID, hospitalID string) (ledgermodels.Candidacy, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1 AND hospital_id = $2`,
		candidacyColumns, db.SchemaTable("request_hospitals"))

	c, err := scanCandidacy(db.QueryRow(ctx, query, requestID, hospitalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ledgermodels.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("query candidacy: %w", err)
	}
	return c, nil
}

// ListCandidacies returns every candidacy of a request ordered by hospital.
func (db *DB) ListCandidacies(ctx context.Context, requestID string) ([]ledgermodels.Candidacy, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1 ORDER BY hospital_id`,
		candidacyColumns, db.SchemaTable("request_hospitals"))

	rows, err := db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("query candidacies: %w", err)
	}
	defer rows.Close()

	var out []ledgermodels.Candidacy
	for rows.Next() {
		c, err := scanCandidacy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidacy: %w", err)
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

func scanCandidacy(row pgx.Row) (ledgermodels.Candidacy, error) {
	var (
		c             ledgermodels.Candidacy
		state, reason string
	)
	err := row.Scan(&c.RequestID, &c.HospitalID, &state, &reason, &c.Notes, &c.RespondedAt, &c.CreatedAt, &c.UpdatedAt)
	c.Status = ledgermodels.Status(state)
	c.Reason = ledgermodels.Reason(reason)
	return c, err
}
