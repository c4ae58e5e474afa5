package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bloodlink/allocator/internal/cache"
	"github.com/bloodlink/allocator/internal/notify"
	"github.com/bloodlink/allocator/pkg/db/memory"
	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 12, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func (r *recorder) ofKind(k notify.Kind) []notify.Event {
	var out []notify.Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	coord  *Coordinator
	ledger *memory.Store
	cache  *cache.MemoryStore
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: memory.New(),
		cache:  cache.NewMemoryStore(),
		events: &recorder{},
	}
	f.coord = New(f.ledger, cache.NewMutator(f.cache), f.events, nil, nil, Config{})
	f.coord.now = func() time.Time { return testNow }
	return f
}

// seed stores a request broadcast to hospitals and applies the matching
// assignment deltas, as Broadcast would.
func (f *fixture) seed(t *testing.T, requestID string, urgency ledgermodels.Urgency, hospitals ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.CreateRequest(ctx, ledgermodels.BloodRequest{
		RequestID:   requestID,
		RequesterID: "U1",
		BloodType:   ledgermodels.ONeg,
		Urgency:     urgency,
		UnitsNeeded: 1,
		CreatedAt:   testNow.Add(-time.Hour),
	}, hospitals)
	require.NoError(t, err)
	f.coord.apply(ctx, f.coord.announce(requestID, hospitals, urgency.Urgent()))
	f.events.reset()
}

func (f *fixture) counter(t *testing.T, hospitalID string, c dashboard.Counter) int64 {
	t.Helper()
	v, err := f.cache.ReadField(context.Background(), hospitalID, string(c))
	require.NoError(t, err)
	return v
}

func (f *fixture) candidacy(t *testing.T, requestID, hospitalID string) ledgermodels.Candidacy {
	t.Helper()
	c, err := f.ledger.GetCandidacy(context.Background(), requestID, hospitalID)
	require.NoError(t, err)
	return c
}

func (f *fixture) requestStatus(t *testing.T, requestID string) ledgermodels.Status {
	t.Helper()
	r, err := f.ledger.GetRequest(context.Background(), requestID)
	require.NoError(t, err)
	return r.Status
}

func strPtr(s string) *string { return &s }
