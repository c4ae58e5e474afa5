package handler

import (
	"net/http"

	"github.com/bloodlink/allocator/internal/allocation"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type decisionBody struct {
	HospitalID string  `json:"hospital_id"`
	Status     string  `json:"status"`
	Notes      *string `json:"notes,omitempty"`
}

// HandleDecision records a hospital's approve / reject / fulfil decision.
// A decision that lost the race still answers 200 with conflict set and the
// statuses that won.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	var body decisionBody
	if !h.decode(w, r, "decision", &body) {
		return
	}

	status, err := ledgermodels.ParseStatus(body.Status)
	if err != nil {
		h.writeError(w, "decision", &allocation.ValidationError{Field: "status", Message: err.Error()})
		return
	}

	out, err := h.Coordinator.Decide(r.Context(), allocation.Decision{
		RequestID:  requestID,
		HospitalID: body.HospitalID,
		Status:     status,
		Notes:      body.Notes,
	})
	if err != nil {
		h.writeError(w, "decision", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// HandleHospitalRequests lists a hospital's candidacies
// Query params: ?hospital_id=H1&status=pending
func (h *Handler) HandleHospitalRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rows, err := h.Coordinator.HospitalRequests(r.Context(), q.Get("hospital_id"), q.Get("status"))
	if err != nil {
		h.writeError(w, "list hospital requests", err)
		return
	}

	if rows == nil {
		rows = make([]ledgermodels.HospitalRequest, 0)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    rows,
	})
}

type broadcastBody struct {
	RequesterID string   `json:"requester_id"`
	PatientName string   `json:"patient_name"`
	BloodType   string   `json:"blood_type"`
	Urgency     string   `json:"urgency"`
	UnitsNeeded int      `json:"units_needed"`
	HospitalIDs []string `json:"hospital_ids"`
}

// HandleBroadcast creates a request and offers it to a set of hospitals.
func (h *Handler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body broadcastBody
	if !h.decode(w, r, "broadcast", &body) {
		return
	}

	req, assigned, err := h.Coordinator.Broadcast(r.Context(), allocation.BroadcastRequest{
		RequesterID: body.RequesterID,
		PatientName: body.PatientName,
		BloodType:   body.BloodType,
		Urgency:     body.Urgency,
		UnitsNeeded: body.UnitsNeeded,
		HospitalIDs: body.HospitalIDs,
	})
	if err != nil {
		h.writeError(w, "broadcast", err)
		return
	}

	h.Logger.Debug("request broadcast via api",
		zap.String("request_id", req.RequestID),
		zap.Strings("hospitals", assigned),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"request":      req,
		"hospital_ids": assigned,
	})
}
