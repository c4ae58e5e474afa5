package allocation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/bloodlink/allocator/internal/notify"
	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideApproveSupersedesOthers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1", "H2", "H3")

	out, err := f.coord.Decide(context.Background(), Decision{
		RequestID:  "R",
		HospitalID: "H2",
		Status:     ledgermodels.StatusApproved,
		Notes:      strPtr("units reserved"),
	})
	require.NoError(t, err)

	assert.Equal(t, ledgermodels.StatusApproved, out.HospitalStatus)
	assert.Equal(t, ledgermodels.StatusApproved, out.OverallStatus)
	assert.False(t, out.Conflict)
	assert.Equal(t, []string{"H1", "H3"}, out.Superseded)

	winner := f.candidacy(t, "R", "H2")
	assert.Equal(t, ledgermodels.StatusApproved, winner.Status)
	require.NotNil(t, winner.RespondedAt)
	assert.Equal(t, testNow, *winner.RespondedAt)
	assert.Equal(t, "units reserved", *winner.Notes)

	for _, h := range []string{"H1", "H3"} {
		c := f.candidacy(t, "R", h)
		assert.Equal(t, ledgermodels.StatusRejected, c.Status, h)
		assert.Equal(t, ledgermodels.ReasonApprovedElsewhere, c.Reason, h)
		assert.Nil(t, c.RespondedAt, h)
		assert.Equal(t, int64(0), f.counter(t, h, dashboard.PendingRequests), h)
	}
	assert.Equal(t, ledgermodels.StatusApproved, f.requestStatus(t, "R"))

	assert.Equal(t, int64(0), f.counter(t, "H2", dashboard.PendingRequests))
	assert.Equal(t, int64(1), f.counter(t, "H2", dashboard.PendingTransfers))

	superseded := f.events.ofKind(notify.KindRequestSuperseded)
	require.Len(t, superseded, 2)
	for _, ev := range superseded {
		assert.Equal(t, string(ledgermodels.ReasonApprovedElsewhere), ev.Reason)
	}
	outcome := f.events.ofKind(notify.KindRequestOutcome)
	require.Len(t, outcome, 1)
	assert.Equal(t, "U1", outcome[0].RequesterID)
	assert.Equal(t, ledgermodels.StatusApproved, outcome[0].Status)
}

func TestDecideFulfilledSupersedesWithDistinctReason(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R", ledgermodels.UrgencyCritical, "H1", "H2")

	out, err := f.coord.Decide(context.Background(), Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusFulfilled})
	require.NoError(t, err)
	assert.Equal(t, ledgermodels.StatusFulfilled, out.OverallStatus)

	loser := f.candidacy(t, "R", "H2")
	assert.Equal(t, ledgermodels.ReasonFulfilledElsewhere, loser.Reason)

	for _, h := range []string{"H1", "H2"} {
		assert.Equal(t, int64(0), f.counter(t, h, dashboard.PendingRequests), h)
		assert.Equal(t, int64(0), f.counter(t, h, dashboard.UrgentRequests), h)
		assert.Equal(t, int64(0), f.counter(t, h, dashboard.PendingTransfers), h)
	}
}

func TestDecideRejectsInAggregateOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "R", ledgermodels.UrgencyUrgent, "H1", "H2")

	out, err := f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, ledgermodels.StatusRejected, out.HospitalStatus)
	assert.Equal(t, ledgermodels.StatusPending, out.OverallStatus)
	assert.Equal(t, ledgermodels.StatusPending, f.requestStatus(t, "R"))
	assert.Empty(t, f.events.ofKind(notify.KindRequestOutcome))

	assert.Equal(t, int64(0), f.counter(t, "H1", dashboard.PendingRequests))
	assert.Equal(t, int64(0), f.counter(t, "H1", dashboard.UrgentRequests))
	assert.Equal(t, int64(1), f.counter(t, "H2", dashboard.PendingRequests))

	out, err = f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H2", Status: ledgermodels.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, ledgermodels.StatusRejected, out.OverallStatus)
	assert.Equal(t, ledgermodels.StatusRejected, f.requestStatus(t, "R"))

	outcome := f.events.ofKind(notify.KindRequestOutcome)
	require.Len(t, outcome, 1)
	assert.Equal(t, ledgermodels.StatusRejected, outcome[0].Status)

	// Own rejections carry no superseded reason.
	assert.Equal(t, ledgermodels.ReasonNone, f.candidacy(t, "R", "H1").Reason)
}

func TestDecideLateDecisionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1", "H2")

	_, err := f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusApproved})
	require.NoError(t, err)
	f.events.reset()
	transfersBefore := f.counter(t, "H2", dashboard.PendingTransfers)

	out, err := f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H2", Status: ledgermodels.StatusApproved})
	require.NoError(t, err)
	assert.True(t, out.Conflict)
	assert.Equal(t, ledgermodels.StatusRejected, out.HospitalStatus)
	assert.Equal(t, ledgermodels.StatusApproved, out.OverallStatus)

	// The losing decision applies no side effects.
	assert.Empty(t, f.events.all())
	assert.Equal(t, transfersBefore, f.counter(t, "H2", dashboard.PendingTransfers))
	assert.Equal(t, ledgermodels.ReasonApprovedElsewhere, f.candidacy(t, "R", "H2").Reason)

	// An approved candidacy cannot be rejected afterwards.
	out, err = f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusRejected})
	require.NoError(t, err)
	assert.True(t, out.Conflict)
	assert.Equal(t, ledgermodels.StatusApproved, out.HospitalStatus)
}

func TestDecideApprovedToFulfilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1")

	_, err := f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.counter(t, "H1", dashboard.PendingTransfers))

	out, err := f.coord.Decide(ctx, Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusFulfilled})
	require.NoError(t, err)
	assert.False(t, out.Conflict)
	assert.Equal(t, ledgermodels.StatusFulfilled, out.OverallStatus)
	assert.Equal(t, int64(0), f.counter(t, "H1", dashboard.PendingTransfers))
	assert.Equal(t, int64(0), f.counter(t, "H1", dashboard.PendingRequests))
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1")

	tests := []struct {
		name string
		in   Decision
		want any
	}{
		{"pending is not a decision", Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusPending}, &ValidationError{}},
		{"unknown status", Decision{RequestID: "R", HospitalID: "H1", Status: "maybe"}, &ValidationError{}},
		{"missing hospital", Decision{RequestID: "R", Status: ledgermodels.StatusApproved}, &ValidationError{}},
		{"unknown request", Decision{RequestID: "nope", HospitalID: "H1", Status: ledgermodels.StatusApproved}, &NotFoundError{}},
		{"hospital without candidacy", Decision{RequestID: "R", HospitalID: "H9", Status: ledgermodels.StatusApproved}, &NotFoundError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Decide(context.Background(), tt.in)
			require.Error(t, err)
			switch tt.want.(type) {
			case *ValidationError:
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
			case *NotFoundError:
				var nf *NotFoundError
				assert.ErrorAs(t, err, &nf)
				assert.ErrorIs(t, err, ledgermodels.ErrNotFound)
			}
		})
	}
	assert.Equal(t, ledgermodels.StatusPending, f.candidacy(t, "R", "H1").Status)
}

func TestDecideSurvivesCacheFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1", "H2")
	f.cache.FailWith(errors.New("cache unreachable"))

	out, err := f.coord.Decide(context.Background(), Decision{RequestID: "R", HospitalID: "H1", Status: ledgermodels.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, ledgermodels.StatusApproved, out.OverallStatus)
	assert.Equal(t, ledgermodels.StatusApproved, f.candidacy(t, "R", "H1").Status)
	assert.Len(t, f.events.ofKind(notify.KindRequestSuperseded), 1)
}

func TestDecideConcurrentApprovalsHaveOneWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		f.seed(t, "R", ledgermodels.UrgencyRoutine, "H1", "H2", "H3")

		var wg sync.WaitGroup
		outcomes := make([]Outcome, 2)
		errs := make([]error, 2)
		for j, h := range []string{"H2", "H3"} {
			j, h := j, h
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[j], errs[j] = f.coord.Decide(context.Background(), Decision{RequestID: "R", HospitalID: h, Status: ledgermodels.StatusApproved})
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		h2, h3 := f.candidacy(t, "R", "H2"), f.candidacy(t, "R", "H3")
		approved := 0
		for _, c := range []ledgermodels.Candidacy{h2, h3} {
			switch c.Status {
			case ledgermodels.StatusApproved:
				approved++
			case ledgermodels.StatusRejected:
				assert.Equal(t, ledgermodels.ReasonApprovedElsewhere, c.Reason)
			default:
				t.Fatalf("unexpected status %s", c.Status)
			}
		}
		require.Equal(t, 1, approved, "iteration %d", i)
		assert.NotEqual(t, outcomes[0].Conflict, outcomes[1].Conflict)
		assert.Equal(t, ledgermodels.StatusRejected, f.candidacy(t, "R", "H1").Status)
		assert.Len(t, f.events.ofKind(notify.KindRequestOutcome), 1)
	}
}

func TestDecideRandomSequencesKeepSingleWinner(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	decisions := []ledgermodels.Status{ledgermodels.StatusApproved, ledgermodels.StatusRejected, ledgermodels.StatusFulfilled}

	for i := 0; i < 200; i++ {
		f := newFixture(t)
		n := 1 + rng.Intn(5)
		hospitals := make([]string, n)
		for j := range hospitals {
			hospitals[j] = fmt.Sprintf("H%d", j)
		}
		f.seed(t, "R", ledgermodels.UrgencyRoutine, hospitals...)

		for step := 0; step < 2*n; step++ {
			_, err := f.coord.Decide(context.Background(), Decision{
				RequestID:  "R",
				HospitalID: hospitals[rng.Intn(n)],
				Status:     decisions[rng.Intn(len(decisions))],
			})
			require.NoError(t, err)
		}

		cands, err := f.ledger.ListCandidacies(context.Background(), "R")
		require.NoError(t, err)
		winners, rejected := 0, 0
		for _, c := range cands {
			if c.Status.Wins() {
				winners++
			}
			if c.Status == ledgermodels.StatusRejected {
				rejected++
			}
		}
		require.LessOrEqual(t, winners, 1)

		status := f.requestStatus(t, "R")
		switch {
		case winners == 1:
			assert.True(t, status.Wins())
		case rejected == n:
			assert.Equal(t, ledgermodels.StatusRejected, status)
		default:
			assert.Equal(t, ledgermodels.StatusPending, status)
		}

		for _, h := range hospitals {
			for _, c := range dashboard.Counters {
				assert.GreaterOrEqual(t, f.counter(t, h, c), int64(0))
			}
		}
	}
}
