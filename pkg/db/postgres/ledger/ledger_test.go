//go:build integration

package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bloodlink/allocator/internal/ledger"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/bloodlink/allocator/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestDB connects to POSTGRES_TEST_URL and creates a throwaway schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)

	schema := fmt.Sprintf("ledger_test_%d", time.Now().UnixNano())
	db, err := New(ctx, postgres.NewClient(pool, zaptest.NewLogger(t)), schema)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		_ = db.Close()
	})
	return db
}

func createRequest(t *testing.T, db *DB, id string, urgency ledgermodels.Urgency, hospitals ...string) {
	t.Helper()
	_, err := db.CreateRequest(context.Background(), ledgermodels.BloodRequest{
		RequestID:   id,
		RequesterID: "requester-1",
		BloodType:   ledgermodels.APos,
		Urgency:     urgency,
		UnitsNeeded: 2,
	}, hospitals)
	require.NoError(t, err)
}

func TestCreateRequestIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assigned, err := db.CreateRequest(ctx, ledgermodels.BloodRequest{RequestID: "R1", RequesterID: "u", BloodType: ledgermodels.APos}, []string{"H1", "H2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"H1", "H2"}, assigned)

	assigned, err = db.CreateRequest(ctx, ledgermodels.BloodRequest{RequestID: "R1", RequesterID: "u", BloodType: ledgermodels.APos}, []string{"H2", "H3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"H3"}, assigned)

	cands, err := db.ListCandidacies(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, cands, 3)
}

func TestInRequestSingleWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	hospitals := []string{"H1", "H2", "H3", "H4"}
	createRequest(t, db, "R1", ledgermodels.UrgencyCritical, hospitals...)

	var (
		mu      sync.Mutex
		winners []string
		wg      sync.WaitGroup
	)
	for _, hid := range hospitals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.InRequest(ctx, "R1", func(ctx context.Context, tx ledger.Tx) error {
				ok, err := tx.CompareAndSetCandidacy(ctx, hid, ledgermodels.StatusPending, ledgermodels.CandidacyUpdate{
					Status: ledgermodels.StatusApproved,
					At:     time.Now().UTC(),
				})
				if err != nil || !ok {
					return err
				}
				if _, err := tx.SupersedePending(ctx, hid, ledgermodels.ReasonApprovedElsewhere, time.Now().UTC()); err != nil {
					return err
				}
				mu.Lock()
				winners = append(winners, hid)
				mu.Unlock()
				return tx.SetRequestStatus(ctx, ledgermodels.StatusApproved)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)

	req, err := db.GetRequest(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, ledgermodels.StatusApproved, req.Status)

	cands, err := db.ListCandidacies(ctx, "R1")
	require.NoError(t, err)
	for _, c := range cands {
		if c.HospitalID == winners[0] {
			assert.Equal(t, ledgermodels.StatusApproved, c.Status)
			continue
		}
		assert.Equal(t, ledgermodels.StatusRejected, c.Status)
		assert.Equal(t, ledgermodels.ReasonApprovedElsewhere, c.Reason)
	}
}

func TestInRequestUnknown(t *testing.T) {
	db := newTestDB(t)
	err := db.InRequest(context.Background(), "missing", func(context.Context, ledger.Tx) error { return nil })
	assert.ErrorIs(t, err, ledgermodels.ErrNotFound)
}

func TestStatsAndConsume(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createRequest(t, db, "R1", ledgermodels.UrgencyUrgent, "H1")
	createRequest(t, db, "R2", ledgermodels.UrgencyRoutine, "H1")

	require.NoError(t, db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (hospital_id) VALUES ('H1'), ('H1')`, db.SchemaTable("donors"))))
	require.NoError(t, db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (blood_id, hospital_id, blood_type, rh_factor, volume_ml, expiry_date, status) VALUES
			('B1', 'H1', 'A', '+', 450, $1, 'available'),
			('B2', 'H1', 'A', '+', 300, $1, 'available'),
			('B3', 'H1', 'O', '-', 450, $2, 'available'),
			('B4', 'H1', 'O', '-', 450, $1, 'transferred')
	`, db.SchemaTable("donations")), now.Add(24*time.Hour), now.Add(-time.Hour)))

	counts, err := db.HospitalCounts(ctx, "H1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.PendingRequests)
	assert.Equal(t, int64(1), counts.UrgentRequests)
	assert.Equal(t, int64(0), counts.PendingTransfers)

	donors, err := db.DonorCount(ctx, "H1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), donors)

	inv, err := db.Inventory(ctx, "H1", now)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, ledgermodels.APos, inv[0].BloodType)
	assert.Equal(t, int64(750), inv[0].VolumeML)
	assert.Equal(t, int64(2), inv[0].Units)

	ids, err := db.HospitalIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"H1"}, ids)

	err = db.InRequest(ctx, "R1", func(ctx context.Context, tx ledger.Tx) error {
		d, err := tx.ConsumeDonation(ctx, "H1", "B1", now)
		require.NoError(t, err)
		assert.Equal(t, ledgermodels.APos, d.BloodType)
		assert.Equal(t, int64(450), d.VolumeML)

		_, err = tx.ConsumeDonation(ctx, "H1", "B3", now)
		assert.ErrorIs(t, err, ledgermodels.ErrNotFound)

		return tx.RecordTransfer(ctx, ledgermodels.Transfer{BloodID: "B1", RequestID: "R1", HospitalID: "H1", At: now})
	})
	require.NoError(t, err)

	inv, err = db.Inventory(ctx, "H1", now)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, int64(300), inv[0].VolumeML)

	transfers, err := db.ListTransfers(ctx, "H1")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "B1", transfers[0].BloodID)
	assert.Equal(t, ledgermodels.APos, transfers[0].BloodType)
	require.NotNil(t, transfers[0].VolumeML)
	assert.Equal(t, int64(450), *transfers[0].VolumeML)
	assert.Equal(t, ledgermodels.UrgencyUrgent, transfers[0].Urgency)
	assert.Equal(t, ledgermodels.APos, transfers[0].RequestedBloodType)
}
