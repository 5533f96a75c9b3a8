// Package api exposes the stored records over HTTP. Pure reads: lookup by
// identifier, health, and discovery. There is no write surface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intakewatch/pkg/platform/middleware/requestlog"
	"intakewatch/pkg/platform/sentinel"
)

// Handler is the thin HTTP layer over the record store.
type Handler struct {
	logger *slog.Logger
	store  RecordStore
}

// New creates a Handler.
func New(store RecordStore, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, store: store}
}

// Router builds the read API router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestlog.Middleware(h.logger))
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/patients/{emrID}", h.handleGetPatient)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// handleRoot is the discovery endpoint.
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "intakewatch",
		"endpoints": map[string]string{
			"GET /patients/{emr_id}": "Most recently captured record for an EMR ID",
			"GET /health":            "Store connectivity check",
			"GET /metrics":           "Prometheus metrics",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

// handleGetPatient looks a record up by EMR ID. Not-found is a normal
// outcome, not an error.
func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	emrID := chi.URLParam(r, "emrID")
	if emrID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "emr_id is required"})
		return
	}

	record, err := h.store.FindByEMRID(ctx, emrID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no record for emr_id " + emrID})
			return
		}
		h.logger.ErrorContext(ctx, "record lookup failed", "emr_id", emrID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
