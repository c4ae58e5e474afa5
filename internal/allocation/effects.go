package allocation

import (
	"context"

	"github.com/bloodlink/allocator/internal/notify"
	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"go.uber.org/zap"
)

type counterDelta struct {
	hospitalID string
	counter    dashboard.Counter
	delta      int64
}

type volumeDelta struct {
	hospitalID string
	bloodType  ledgermodels.BloodType
	delta      int64
}

// effects collects the cache deltas and events of one committed ledger
// transaction. They are applied only after the commit.
type effects struct {
	requestID string
	counters  []counterDelta
	volumes   []volumeDelta
	events    []notify.Event
}

func (e *effects) add(hospitalID string, c dashboard.Counter, delta int64) {
	e.counters = append(e.counters, counterDelta{hospitalID: hospitalID, counter: c, delta: delta})
}

// assigned is the hook for a new pending candidacy.
func (e *effects) assigned(hospitalID string, urgent bool) {
	e.add(hospitalID, dashboard.PendingRequests, 1)
	if urgent {
		e.add(hospitalID, dashboard.UrgentRequests, 1)
	}
}

// leftPending is the single hook for a candidacy moving away from pending,
// whichever operation caused it. It must run once per transition.
func (e *effects) leftPending(hospitalID string, urgent bool, to ledgermodels.Status) {
	e.add(hospitalID, dashboard.PendingRequests, -1)
	if urgent {
		e.add(hospitalID, dashboard.UrgentRequests, -1)
	}
	if to == ledgermodels.StatusApproved {
		e.add(hospitalID, dashboard.PendingTransfers, 1)
	}
}

// transferred is the hook for approved -> fulfilled.
func (e *effects) transferred(hospitalID string) {
	e.add(hospitalID, dashboard.PendingTransfers, -1)
}

// consumed removes one donated unit from the hospital's stock.
func (e *effects) consumed(d ledgermodels.Donation) {
	e.add(d.HospitalID, dashboard.TotalBloodUnits, -1)
	e.volumes = append(e.volumes, volumeDelta{hospitalID: d.HospitalID, bloodType: d.BloodType, delta: -d.VolumeML})
}

func (e *effects) notify(ev notify.Event) {
	e.events = append(e.events, ev)
}

// apply runs the collected side effects. The caller's cancellation does not
// reach them; they are bounded by the coordinator's side-effect timeout.
// Failures are logged and counted, never returned.
func (c *Coordinator) apply(ctx context.Context, e *effects) {
	if len(e.counters) == 0 && len(e.volumes) == 0 && len(e.events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sideEffectTimeout)
	defer cancel()

	for _, d := range e.counters {
		if _, err := c.mutator.ApplyDelta(ctx, d.hospitalID, d.counter, d.delta); err != nil {
			c.metrics.IncCacheWriteFailure()
			c.logger.Warn("dashboard delta failed",
				zap.String("request_id", e.requestID),
				zap.String("hospital_id", d.hospitalID),
				zap.String("counter", string(d.counter)),
				zap.Int64("delta", d.delta),
				zap.Error(err),
			)
		}
	}

	for _, d := range e.volumes {
		if _, err := c.mutator.ApplyVolumeDelta(ctx, d.hospitalID, d.bloodType, d.delta); err != nil {
			c.metrics.IncCacheWriteFailure()
			c.logger.Warn("dashboard volume delta failed",
				zap.String("request_id", e.requestID),
				zap.String("hospital_id", d.hospitalID),
				zap.String("blood_type", string(d.bloodType)),
				zap.Int64("delta", d.delta),
				zap.Error(err),
			)
		}
	}

	for _, ev := range e.events {
		c.notifier.Notify(ctx, ev)
	}
}
