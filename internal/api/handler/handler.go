package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bloodlink/allocator/internal/allocation"
	"github.com/bloodlink/allocator/internal/stats"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Pinger is a dependency whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call into.
type Deps struct {
	Coordinator *allocation.Coordinator
	Aggregator  *stats.Aggregator
	Ledger      Pinger
	Cache       Pinger

	// Events serves the websocket event stream; nil disables the route.
	Events http.HandlerFunc
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
}

// Handler holds the dependencies for API handlers
type Handler struct {
	Deps
	Logger     *zap.Logger
	AdminToken string
}

// NewHandler creates a new Handler instance
func NewHandler(deps Deps, logger *zap.Logger, adminToken string) *Handler {
	return &Handler{
		Deps:       deps,
		Logger:     logger,
		AdminToken: adminToken,
	}
}

// NewRouter creates and configures the HTTP router with all API routes
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()

	// Public health check endpoints
	r.HandleFunc("/api/health", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ping", h.HandlePing).Methods(http.MethodGet)

	// Hospital-facing endpoints
	r.HandleFunc("/api/hospital/requests", h.HandleHospitalRequests).Methods(http.MethodGet)
	r.HandleFunc("/api/hospital/requests/{id}/status", h.HandleDecision).Methods(http.MethodPut)
	r.HandleFunc("/api/hospital/transfers", h.HandleTransfer).Methods(http.MethodPost)
	r.HandleFunc("/api/hospital/transfers", h.HandleTransferHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/hospital/low-stock", h.HandleLowStock).Methods(http.MethodGet)
	r.HandleFunc("/api/dashboard/stats", h.HandleDashboard).Methods(http.MethodGet)

	// Requester-side collaborator endpoints
	r.HandleFunc("/api/requests", h.RequireAuth(h.HandleBroadcast)).Methods(http.MethodPost)
	r.HandleFunc("/api/webhook/request-created", h.RequireAuth(h.HandleRequestCreated)).Methods(http.MethodPost)
	r.HandleFunc("/api/webhook/request-deleted", h.RequireAuth(h.HandleRequestDeleted)).Methods(http.MethodPost)

	// Operator endpoints
	r.HandleFunc("/api/admin/rebuild", h.RequireAuth(h.HandleRebuild)).Methods(http.MethodPost)

	if h.Events != nil {
		r.HandleFunc("/api/events/ws", h.Events).Methods(http.MethodGet)
	}
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}

	return r
}

// RequireAuth is a middleware that validates the bearer token
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		expected := "Bearer " + h.AdminToken

		if auth != expected {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		next(w, r)
	}
}

// HandleHealth reports ledger and cache reachability. Only the ledger is
// required for a healthy status.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := map[string]bool{
		"ledger": h.Ledger != nil && h.Ledger.Ping(ctx) == nil,
		"cache":  h.Cache != nil && h.Cache.Ping(ctx) == nil,
	}

	status, code := "ok", http.StatusOK
	if !services["ledger"] {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"services":  services,
	})
}

// HandlePing is a bare liveness check.
func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var (
		ve *allocation.ValidationError
		nf *allocation.NotFoundError
		ce *allocation.ConflictError
		re *stats.RebuildError
	)

	switch {
	case errors.As(err, &ve):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &nf):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
	case errors.As(err, &ce):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": ce.Error(), "current": string(ce.Current)})
	case errors.As(err, &re):
		h.Logger.Error(op+" failed", zap.Error(err))
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": re.Error(), "stage": re.Stage})
	default:
		h.Logger.Error(op+" failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// decode reads a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Logger.Warn("bad json in "+op+" request", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return false
	}
	return true
}
