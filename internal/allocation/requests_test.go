package allocation

import (
	"context"
	"testing"

	"github.com/bloodlink/allocator/internal/notify"
	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast(t *testing.T) {
	f := newFixture(t)
	f.coord.newID = func() string { return "req-1" }
	ctx := context.Background()

	req, assigned, err := f.coord.Broadcast(ctx, BroadcastRequest{
		RequesterID: "U7",
		PatientName: " Jo Doe ",
		BloodType:   "ab-",
		Urgency:     "critical",
		UnitsNeeded: 2,
		HospitalIDs: []string{"H1", "H2", "H1", " ", "H3"},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, ledgermodels.ABNeg, req.BloodType)
	assert.Equal(t, "Jo Doe", req.PatientName)
	assert.Equal(t, ledgermodels.StatusPending, req.Status)
	assert.Equal(t, []string{"H1", "H2", "H3"}, assigned)

	for _, h := range assigned {
		assert.Equal(t, int64(1), f.counter(t, h, dashboard.PendingRequests), h)
		assert.Equal(t, int64(1), f.counter(t, h, dashboard.UrgentRequests), h)
		assert.Equal(t, ledgermodels.StatusPending, f.candidacy(t, "req-1", h).Status)
	}
	assert.Len(t, f.events.ofKind(notify.KindRequestAssigned), 3)

	stored, err := f.ledger.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "U7", stored.RequesterID)
}

func TestBroadcastValidation(t *testing.T) {
	valid := BroadcastRequest{RequesterID: "U1", BloodType: "O+", Urgency: "routine", UnitsNeeded: 1, HospitalIDs: []string{"H1"}}

	tests := []struct {
		name   string
		mutate func(*BroadcastRequest)
		field  string
	}{
		{"no hospitals", func(r *BroadcastRequest) { r.HospitalIDs = []string{" ", ""} }, "hospital_ids"},
		{"no requester", func(r *BroadcastRequest) { r.RequesterID = "" }, "requester_id"},
		{"bad blood type", func(r *BroadcastRequest) { r.BloodType = "C+" }, "blood_type"},
		{"bad urgency", func(r *BroadcastRequest) { r.Urgency = "soon" }, "urgency"},
		{"no units", func(r *BroadcastRequest) { r.UnitsNeeded = 0 }, "units_needed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid
			tt.mutate(&in)
			_, _, err := f.coord.Broadcast(context.Background(), in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, f.events.all())
		})
	}
}

func TestAnnounceCreatedDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hospitals, err := f.coord.AnnounceCreated(ctx, "R1", []string{"H1", "H1", "H2"}, "urgent")
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H2"}, hospitals)

	assert.Equal(t, int64(1), f.counter(t, "H1", dashboard.PendingRequests))
	assert.Equal(t, int64(1), f.counter(t, "H1", dashboard.UrgentRequests))
	assert.Equal(t, int64(1), f.counter(t, "H2", dashboard.PendingRequests))
	assert.Len(t, f.events.ofKind(notify.KindRequestAssigned), 2)
}

func TestAnnounceCreatedUrgencyFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.CreateRequest(ctx, ledgermodels.BloodRequest{RequestID: "R1", Urgency: ledgermodels.UrgencyCritical}, []string{"H1"})
	require.NoError(t, err)

	_, err = f.coord.AnnounceCreated(ctx, "R1", []string{"H1"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.counter(t, "H1", dashboard.UrgentRequests))

	// Unknown upstream request counts as routine.
	_, err = f.coord.AnnounceCreated(ctx, "R2", []string{"H2"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.counter(t, "H2", dashboard.PendingRequests))
	assert.Equal(t, int64(0), f.counter(t, "H2", dashboard.UrgentRequests))

	_, err = f.coord.AnnounceCreated(ctx, "R3", []string{"H3"}, "whenever")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1", "H2")

	hospitals, err := f.coord.Withdraw(ctx, "R", "fulfilled")
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H2"}, hospitals)

	events := f.events.ofKind(notify.KindRequestWithdrawn)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, notify.ReasonWithdrawnFulfilled, ev.Reason)
	}

	// Ledger and dashboards are untouched.
	assert.Equal(t, ledgermodels.StatusPending, f.candidacy(t, "R", "H1").Status)
	assert.Equal(t, int64(1), f.counter(t, "H1", dashboard.PendingRequests))

	f.events.reset()
	_, err = f.coord.Withdraw(ctx, "R", "")
	require.NoError(t, err)
	for _, ev := range f.events.all() {
		assert.Equal(t, notify.ReasonWithdrawn, ev.Reason)
	}

	hospitals, err = f.coord.Withdraw(ctx, "unknown", "")
	require.NoError(t, err)
	assert.Empty(t, hospitals)
}

func TestHospitalRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "R1", ledgermodels.UrgencyRoutine, "H1")
	f.seed(t, "R2", ledgermodels.UrgencyCritical, "H1")

	rows, err := f.coord.HospitalRequests(ctx, "H1", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "R2", rows[0].RequestID)

	rows, err = f.coord.HospitalRequests(ctx, "H1", "approved")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = f.coord.HospitalRequests(ctx, "H1", "lost")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}
