// Package allocation decides which hospital serves a blood request. The
// ledger is the only source of truth: every state change commits there first,
// and dashboard deltas and notifications follow as best-effort side effects.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloodlink/allocator/internal/cache"
	"github.com/bloodlink/allocator/internal/ledger"
	"github.com/bloodlink/allocator/internal/metrics"
	"github.com/bloodlink/allocator/internal/notify"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the coordinator.
type Config struct {
	// SideEffectTimeout bounds the cache deltas and notification submission
	// that follow a commit (default: 5s).
	SideEffectTimeout time.Duration
}

// Coordinator owns every candidacy and request status transition.
type Coordinator struct {
	ledger            ledger.Store
	mutator           *cache.Mutator
	notifier          notify.Notifier
	logger            *zap.Logger
	metrics           *metrics.Metrics
	sideEffectTimeout time.Duration
	now               func() time.Time
	newID             func() string
}

// New creates a Coordinator. notifier, logger and m may be nil.
func New(store ledger.Store, mutator *cache.Mutator, notifier notify.Notifier, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 5 * time.Second
	}
	return &Coordinator{
		ledger:            store,
		mutator:           mutator,
		notifier:          notifier,
		logger:            logger.With(zap.String("component", "allocation")),
		metrics:           m,
		sideEffectTimeout: cfg.SideEffectTimeout,
		now:               time.Now,
		newID:             uuid.NewString,
	}
}

// Decision is a hospital's response to one of its candidacies.
type Decision struct {
	RequestID  string
	HospitalID string
	Status     ledgermodels.Status
	Notes      *string
}

// Outcome is the authoritative state after a decision. When Conflict is set
// the decision lost to an earlier one and the statuses are what that earlier
// decision left behind.
type Outcome struct {
	HospitalStatus ledgermodels.Status `json:"hospitalStatus"`
	OverallStatus  ledgermodels.Status `json:"overallRequestStatus"`
	Conflict       bool                `json:"conflict"`
	Superseded     []string            `json:"superseded,omitempty"`
}

// Decide applies a hospital's decision. Only the first transition out of
// pending succeeds; approved may later move to fulfilled. A decision that
// finds the candidacy already moved returns Conflict with a nil error.
func (c *Coordinator) Decide(ctx context.Context, d Decision) (Outcome, error) {
	if !d.Status.IsDecision() {
		return Outcome{}, &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a decision, want approved, rejected or fulfilled", d.Status)}
	}
	if d.RequestID == "" {
		return Outcome{}, &ValidationError{Field: "request_id", Message: "required"}
	}
	if d.HospitalID == "" {
		return Outcome{}, &ValidationError{Field: "hospital_id", Message: "required"}
	}

	var out Outcome
	fx := &effects{requestID: d.RequestID}

	err := c.ledger.InRequest(ctx, d.RequestID, func(ctx context.Context, tx ledger.Tx) error {
		return c.decide(ctx, tx, d, &out, fx)
	})
	if err != nil {
		if errors.Is(err, ledgermodels.ErrNotFound) {
			return Outcome{}, &NotFoundError{Kind: "candidacy", RequestID: d.RequestID, HospitalID: d.HospitalID}
		}
		return Outcome{}, fmt.Errorf("decide %s/%s: %w", d.RequestID, d.HospitalID, err)
	}

	if out.Conflict {
		c.metrics.IncConflict()
		c.logger.Info("decision lost to an earlier transition",
			zap.String("request_id", d.RequestID),
			zap.String("hospital_id", d.HospitalID),
			zap.String("decision", string(d.Status)),
			zap.String("current", string(out.HospitalStatus)),
		)
		return out, nil
	}

	c.metrics.ObserveDecision(string(d.Status))
	c.metrics.AddSuperseded(len(out.Superseded))
	c.logger.Info("decision committed",
		zap.String("request_id", d.RequestID),
		zap.String("hospital_id", d.HospitalID),
		zap.String("decision", string(d.Status)),
		zap.String("request_status", string(out.OverallStatus)),
		zap.Int("superseded", len(out.Superseded)),
	)

	c.apply(ctx, fx)
	return out, nil
}

func (c *Coordinator) decide(ctx context.Context, tx ledger.Tx, d Decision, out *Outcome, fx *effects) error {
	req := tx.Request()
	now := c.now().UTC()

	cand, err := tx.Candidacy(ctx, d.HospitalID)
	if err != nil {
		return err
	}

	from := ledgermodels.StatusPending
	if cand.Status == ledgermodels.StatusApproved && d.Status == ledgermodels.StatusFulfilled {
		from = ledgermodels.StatusApproved
	}

	swapped := false
	if cand.Status == from {
		swapped, err = tx.CompareAndSetCandidacy(ctx, d.HospitalID, from, ledgermodels.CandidacyUpdate{
			Status: d.Status,
			Notes:  d.Notes,
			At:     now,
		})
		if err != nil {
			return err
		}
	}
	if !swapped {
		current, err := tx.Candidacy(ctx, d.HospitalID)
		if err != nil {
			return err
		}
		out.HospitalStatus = current.Status
		out.OverallStatus = req.Status
		out.Conflict = true
		return nil
	}

	out.HospitalStatus = d.Status
	out.OverallStatus = req.Status
	urgent := req.Urgency.Urgent()

	if from == ledgermodels.StatusPending {
		fx.leftPending(d.HospitalID, urgent, d.Status)
	} else {
		fx.transferred(d.HospitalID)
	}

	switch {
	case d.Status.Wins():
		losers, err := tx.SupersedePending(ctx, d.HospitalID, ledgermodels.SupersededBy(d.Status), now)
		if err != nil {
			return err
		}
		for _, hid := range losers {
			fx.leftPending(hid, urgent, ledgermodels.StatusRejected)
			fx.notify(notify.RequestSuperseded(hid, req.RequestID, ledgermodels.SupersededBy(d.Status), now))
		}
		out.Superseded = losers

		if req.Status != d.Status {
			if err := tx.SetRequestStatus(ctx, d.Status); err != nil {
				return err
			}
			out.OverallStatus = d.Status
			fx.notify(notify.RequestOutcome(req.RequesterID, req.RequestID, d.Status, now))
		}

	case d.Status == ledgermodels.StatusRejected:
		remaining, err := tx.CountNotRejected(ctx)
		if err != nil {
			return err
		}
		if remaining == 0 && req.Status == ledgermodels.StatusPending {
			if err := tx.SetRequestStatus(ctx, ledgermodels.StatusRejected); err != nil {
				return err
			}
			out.OverallStatus = ledgermodels.StatusRejected
			fx.notify(notify.RequestOutcome(req.RequesterID, req.RequestID, ledgermodels.StatusRejected, now))
		}
	}
	return nil
}
