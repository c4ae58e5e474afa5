package handler

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

type requestCreatedBody struct {
	RequestID   string   `json:"request_id"`
	HospitalIDs []string `json:"hospital_ids"`
	Urgency     string   `json:"urgency,omitempty"`
}

// HandleRequestCreated is called by the requester side after it stored a new
// request. Only dashboards and notifications are updated here.
func (h *Handler) HandleRequestCreated(w http.ResponseWriter, r *http.Request) {
	var body requestCreatedBody
	if !h.decode(w, r, "request-created webhook", &body) {
		return
	}

	hospitals, err := h.Coordinator.AnnounceCreated(r.Context(), body.RequestID, body.HospitalIDs, body.Urgency)
	if err != nil {
		h.writeError(w, "request-created webhook", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"notified":  len(hospitals),
		"hospitals": hospitals,
	})
}

type requestDeletedBody struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status,omitempty"`
}

// HandleRequestDeleted notifies hospitals that a requester withdrew a request.
func (h *Handler) HandleRequestDeleted(w http.ResponseWriter, r *http.Request) {
	var body requestDeletedBody
	if !h.decode(w, r, "request-deleted webhook", &body) {
		return
	}

	hospitals, err := h.Coordinator.Withdraw(r.Context(), body.RequestID, body.Status)
	if err != nil {
		h.writeError(w, "request-deleted webhook", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"notified": len(hospitals),
	})
}
