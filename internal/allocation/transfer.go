package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bloodlink/allocator/internal/ledger"
	"github.com/bloodlink/allocator/internal/notify"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"go.uber.org/zap"
)

// Transfer hands one donated unit over against an approved candidacy.
type Transfer struct {
	RequestID  string
	HospitalID string
	BloodID    string
	Notes      *string
}

// CompleteTransfer consumes the donation, records the transfer and moves the
// hospital's candidacy and the request to fulfilled, all in one ledger
// transaction. The candidacy must be approved.
func (c *Coordinator) CompleteTransfer(ctx context.Context, t Transfer) (Outcome, error) {
	switch {
	case t.RequestID == "":
		return Outcome{}, &ValidationError{Field: "request_id", Message: "required"}
	case t.HospitalID == "":
		return Outcome{}, &ValidationError{Field: "hospital_id", Message: "required"}
	case t.BloodID == "":
		return Outcome{}, &ValidationError{Field: "blood_id", Message: "required"}
	}

	var out Outcome
	fx := &effects{requestID: t.RequestID}

	err := c.ledger.InRequest(ctx, t.RequestID, func(ctx context.Context, tx ledger.Tx) error {
		req := tx.Request()
		now := c.now().UTC()

		cand, err := tx.Candidacy(ctx, t.HospitalID)
		if errors.Is(err, ledgermodels.ErrNotFound) {
			return &NotFoundError{Kind: "candidacy", RequestID: t.RequestID, HospitalID: t.HospitalID}
		}
		if err != nil {
			return err
		}
		if cand.Status != ledgermodels.StatusApproved {
			return &ConflictError{RequestID: t.RequestID, HospitalID: t.HospitalID, Current: cand.Status, Want: ledgermodels.StatusApproved}
		}

		donation, err := tx.ConsumeDonation(ctx, t.HospitalID, t.BloodID, now)
		if errors.Is(err, ledgermodels.ErrNotFound) {
			return &NotFoundError{Kind: "available donation", ID: t.BloodID}
		}
		if err != nil {
			return err
		}

		if err := tx.RecordTransfer(ctx, ledgermodels.Transfer{
			BloodID:    donation.BloodID,
			RequestID:  t.RequestID,
			HospitalID: t.HospitalID,
			Notes:      t.Notes,
			At:         now,
		}); err != nil {
			return err
		}

		ok, err := tx.CompareAndSetCandidacy(ctx, t.HospitalID, ledgermodels.StatusApproved, ledgermodels.CandidacyUpdate{
			Status: ledgermodels.StatusFulfilled,
			Notes:  t.Notes,
			At:     now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return &ConflictError{RequestID: t.RequestID, HospitalID: t.HospitalID, Current: cand.Status, Want: ledgermodels.StatusApproved}
		}

		// Normally empty: approval already superseded the others.
		losers, err := tx.SupersedePending(ctx, t.HospitalID, ledgermodels.ReasonFulfilledElsewhere, now)
		if err != nil {
			return err
		}
		for _, hid := range losers {
			fx.leftPending(hid, req.Urgency.Urgent(), ledgermodels.StatusRejected)
			fx.notify(notify.RequestSuperseded(hid, req.RequestID, ledgermodels.ReasonFulfilledElsewhere, now))
		}

		if err := tx.SetRequestStatus(ctx, ledgermodels.StatusFulfilled); err != nil {
			return err
		}

		fx.transferred(t.HospitalID)
		fx.consumed(donation)
		if req.Status != ledgermodels.StatusFulfilled {
			fx.notify(notify.RequestOutcome(req.RequesterID, req.RequestID, ledgermodels.StatusFulfilled, now))
		}

		out = Outcome{
			HospitalStatus: ledgermodels.StatusFulfilled,
			OverallStatus:  ledgermodels.StatusFulfilled,
			Superseded:     losers,
		}
		return nil
	})
	if err != nil {
		var (
			nf *NotFoundError
			ce *ConflictError
		)
		if errors.As(err, &nf) || errors.As(err, &ce) {
			return Outcome{}, err
		}
		if errors.Is(err, ledgermodels.ErrNotFound) {
			return Outcome{}, &NotFoundError{Kind: "request", RequestID: t.RequestID}
		}
		return Outcome{}, fmt.Errorf("complete transfer %s/%s: %w", t.RequestID, t.HospitalID, err)
	}

	c.metrics.ObserveDecision(string(ledgermodels.StatusFulfilled))
	c.logger.Info("transfer completed",
		zap.String("request_id", t.RequestID),
		zap.String("hospital_id", t.HospitalID),
		zap.String("blood_id", t.BloodID),
	)

	c.apply(ctx, fx)
	return out, nil
}

// HospitalTransfers lists the transfers a hospital has completed, newest first.
func (c *Coordinator) HospitalTransfers(ctx context.Context, hospitalID string) ([]ledgermodels.TransferRecord, error) {
	if hospitalID == "" {
		return nil, &ValidationError{Field: "hospital_id", Message: "required"}
	}
	rows, err := c.ledger.ListTransfers(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("list transfers for %s: %w", hospitalID, err)
	}
	return rows, nil
}
