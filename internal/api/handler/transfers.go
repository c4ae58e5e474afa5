package handler

import (
	"net/http"

	"github.com/bloodlink/allocator/internal/allocation"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/go-jose/go-jose/v4/json"
)

type transferBody struct {
	RequestID  string  `json:"request_id"`
	HospitalID string  `json:"hospital_id"`
	BloodID    string  `json:"blood_id"`
	Notes      *string `json:"notes,omitempty"`
}

// HandleTransfer completes an approved candidacy by handing over one donation.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if !h.decode(w, r, "transfer", &body) {
		return
	}

	out, err := h.Coordinator.CompleteTransfer(r.Context(), allocation.Transfer{
		RequestID:  body.RequestID,
		HospitalID: body.HospitalID,
		BloodID:    body.BloodID,
		Notes:      body.Notes,
	})
	if err != nil {
		h.writeError(w, "transfer", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(out)
}

// HandleTransferHistory lists a hospital's completed transfers
// Query params: ?hospital_id=H1
func (h *Handler) HandleTransferHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Coordinator.HospitalTransfers(r.Context(), r.URL.Query().Get("hospital_id"))
	if err != nil {
		h.writeError(w, "list transfers", err)
		return
	}

	if rows == nil {
		rows = make([]ledgermodels.TransferRecord, 0)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    rows,
	})
}
