package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bloodlink/allocator/internal/notify"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/bloodlink/allocator/pkg/utils"
	"go.uber.org/zap"
)

// BroadcastRequest describes a new blood request and the hospitals asked to serve it.
type BroadcastRequest struct {
	RequesterID string
	PatientName string
	BloodType   string
	Urgency     string
	UnitsNeeded int
	HospitalIDs []string
}

// Broadcast records a new request with one pending candidacy per distinct
// hospital and announces it to those hospitals.
func (c *Coordinator) Broadcast(ctx context.Context, in BroadcastRequest) (ledgermodels.BloodRequest, []string, error) {
	hospitals := utils.Dedup(in.HospitalIDs)
	if len(hospitals) == 0 {
		return ledgermodels.BloodRequest{}, nil, &ValidationError{Field: "hospital_ids", Message: "at least one hospital is required"}
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return ledgermodels.BloodRequest{}, nil, &ValidationError{Field: "requester_id", Message: "required"}
	}
	bt, err := ledgermodels.ParseBloodType(in.BloodType)
	if err != nil {
		return ledgermodels.BloodRequest{}, nil, &ValidationError{Field: "blood_type", Message: err.Error()}
	}
	urgency, err := ledgermodels.ParseUrgency(in.Urgency)
	if err != nil {
		return ledgermodels.BloodRequest{}, nil, &ValidationError{Field: "urgency", Message: err.Error()}
	}
	if in.UnitsNeeded <= 0 {
		return ledgermodels.BloodRequest{}, nil, &ValidationError{Field: "units_needed", Message: "must be positive"}
	}

	req := ledgermodels.BloodRequest{
		RequestID:   c.newID(),
		RequesterID: strings.TrimSpace(in.RequesterID),
		PatientName: strings.TrimSpace(in.PatientName),
		BloodType:   bt,
		Urgency:     urgency,
		UnitsNeeded: in.UnitsNeeded,
		Status:      ledgermodels.StatusPending,
		CreatedAt:   c.now().UTC(),
	}

	assigned, err := c.ledger.CreateRequest(ctx, req, hospitals)
	if err != nil {
		return ledgermodels.BloodRequest{}, nil, fmt.Errorf("create request: %w", err)
	}

	c.logger.Info("request broadcast",
		zap.String("request_id", req.RequestID),
		zap.String("urgency", string(req.Urgency)),
		zap.Int("hospitals", len(assigned)),
	)

	c.apply(ctx, c.announce(req.RequestID, assigned, urgency.Urgent()))
	return req, assigned, nil
}

// AnnounceCreated handles a request whose ledger rows were written by the
// requester side. Hospitals are deduplicated before any delta is applied.
// When urgency is empty the ledger copy of the request decides it.
func (c *Coordinator) AnnounceCreated(ctx context.Context, requestID string, hospitalIDs []string, urgency string) ([]string, error) {
	if requestID == "" {
		return nil, &ValidationError{Field: "request_id", Message: "required"}
	}
	hospitals := utils.Dedup(hospitalIDs)
	if len(hospitals) == 0 {
		return nil, &ValidationError{Field: "hospital_ids", Message: "at least one hospital is required"}
	}

	var u ledgermodels.Urgency
	if urgency != "" {
		parsed, err := ledgermodels.ParseUrgency(urgency)
		if err != nil {
			return nil, &ValidationError{Field: "urgency", Message: err.Error()}
		}
		u = parsed
	} else {
		req, err := c.ledger.GetRequest(ctx, requestID)
		switch {
		case err == nil:
			u = req.Urgency
		case errors.Is(err, ledgermodels.ErrNotFound):
			c.logger.Debug("announced request not in ledger, treating as routine", zap.String("request_id", requestID))
		default:
			return nil, fmt.Errorf("get request %s: %w", requestID, err)
		}
	}

	c.logger.Info("request created upstream",
		zap.String("request_id", requestID),
		zap.Int("hospitals", len(hospitals)),
		zap.Int("duplicates", len(hospitalIDs)-len(hospitals)),
	)

	c.apply(ctx, c.announce(requestID, hospitals, u.Urgent()))
	return hospitals, nil
}

func (c *Coordinator) announce(requestID string, hospitals []string, urgent bool) *effects {
	now := c.now().UTC()
	fx := &effects{requestID: requestID}
	for _, hid := range hospitals {
		fx.assigned(hid, urgent)
		fx.notify(notify.RequestAssigned(hid, requestID, now))
	}
	return fx
}

// Withdraw tells every hospital holding a candidacy that the requester took
// the request back. The ledger and the dashboards are left untouched.
func (c *Coordinator) Withdraw(ctx context.Context, requestID, status string) ([]string, error) {
	if requestID == "" {
		return nil, &ValidationError{Field: "request_id", Message: "required"}
	}

	reason := notify.ReasonWithdrawn
	if status == string(ledgermodels.StatusFulfilled) {
		reason = notify.ReasonWithdrawnFulfilled
	}

	cands, err := c.ledger.ListCandidacies(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list candidacies %s: %w", requestID, err)
	}

	now := c.now().UTC()
	fx := &effects{requestID: requestID}
	hospitals := make([]string, 0, len(cands))
	for _, cand := range cands {
		hospitals = append(hospitals, cand.HospitalID)
		fx.notify(notify.RequestWithdrawn(cand.HospitalID, requestID, reason, now))
	}

	c.logger.Info("request withdrawn",
		zap.String("request_id", requestID),
		zap.String("reason", reason),
		zap.Int("hospitals", len(hospitals)),
	)

	c.apply(ctx, fx)
	return hospitals, nil
}

// HospitalRequests lists a hospital's candidacies, optionally filtered by status.
func (c *Coordinator) HospitalRequests(ctx context.Context, hospitalID, status string) ([]ledgermodels.HospitalRequest, error) {
	if hospitalID == "" {
		return nil, &ValidationError{Field: "hospital_id", Message: "required"}
	}
	var filter *ledgermodels.Status
	if status != "" {
		s, err := ledgermodels.ParseStatus(status)
		if err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
		filter = &s
	}

	rows, err := c.ledger.ListHospitalRequests(ctx, hospitalID, filter)
	if err != nil {
		return nil, fmt.Errorf("list requests for %s: %w", hospitalID, err)
	}
	return rows, nil
}
