package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsync/internal/service"
)

// StatusSource reports the state of the primary session.
type StatusSource interface {
	Status(ctx context.Context) service.Status
}

// HealthHandler serves the health and status endpoints.
type HealthHandler struct {
	status StatusSource
	mode   string
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(status StatusSource, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{status: status, mode: mode, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type statusResponse struct {
	Mode string `json:"mode"`
	service.Status
}

// GetStatus reports the mode and primary session state.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:   h.mode,
		Status: h.status.Status(r.Context()),
	})
}
