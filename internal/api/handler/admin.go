package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

type rebuildBody struct {
	HospitalID string `json:"hospital_id,omitempty"`
}

// HandleRebuild recomputes one hospital's dashboard, or every hospital's
// when no hospital_id is given.
func (h *Handler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	var body rebuildBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return
	}

	if body.HospitalID != "" {
		snap, err := h.Aggregator.Rebuild(r.Context(), body.HospitalID)
		if err != nil {
			h.writeError(w, "rebuild", err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
		return
	}

	res, err := h.Aggregator.RebuildAll(r.Context())
	if err != nil {
		h.writeError(w, "rebuild all", err)
		return
	}

	failures := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		failures = append(failures, e.Error())
	}

	code := http.StatusOK
	if res.Failed > 0 {
		code = http.StatusMultiStatus
	}
	h.writeJSON(w, code, map[string]any{
		"success":     res.Failed == 0,
		"total":       res.Total,
		"succeeded":   res.Succeeded,
		"failed":      res.Failed,
		"duration_ms": res.Duration.Milliseconds(),
		"errors":      failures,
	})
}
