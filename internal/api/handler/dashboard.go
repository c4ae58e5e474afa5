package handler

import (
	"net/http"
	"strconv"

	"github.com/bloodlink/allocator/internal/allocation"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// HandleDashboard returns a hospital's dashboard snapshot
// Query params: ?hospital_id=H1&force_refresh=true
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hospitalID := q.Get("hospital_id")
	if hospitalID == "" {
		h.writeError(w, "dashboard", &allocation.ValidationError{Field: "hospital_id", Message: "required"})
		return
	}
	force := q.Get("force_refresh") == "true" || q.Get("force_refresh") == "1"

	snap, cached, err := h.Aggregator.Snapshot(r.Context(), hospitalID, force)
	if err != nil {
		h.writeError(w, "dashboard", err)
		return
	}

	h.Logger.Debug("dashboard served",
		zap.String("hospital_id", hospitalID),
		zap.Bool("cached", cached),
		zap.Bool("force_refresh", force),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"cached":  cached,
		"data":    snap,
	})
}

type lowStockItem struct {
	BloodType ledgermodels.BloodType `json:"blood_type"`
	Units     int64                  `json:"unit_count"`
	VolumeML  int64                  `json:"total_volume_ml"`
}

// HandleLowStock lists blood types under a unit threshold
// Query params: ?hospital_id=H1&threshold=5
func (h *Handler) HandleLowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hospitalID := q.Get("hospital_id")
	if hospitalID == "" {
		h.writeError(w, "low stock", &allocation.ValidationError{Field: "hospital_id", Message: "required"})
		return
	}

	threshold := int64(5)
	if v := q.Get("threshold"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			h.writeError(w, "low stock", &allocation.ValidationError{Field: "threshold", Message: "must be a positive integer"})
			return
		}
		threshold = n
	}

	rows, err := h.Aggregator.LowStock(r.Context(), hospitalID, threshold)
	if err != nil {
		h.writeError(w, "low stock", err)
		return
	}

	items := make([]lowStockItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, lowStockItem{BloodType: row.BloodType, Units: row.Units, VolumeML: row.VolumeML})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"threshold": threshold,
		"data":      items,
	})
}
