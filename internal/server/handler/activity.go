package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// ActivitySource lists recorded submissions.
type ActivitySource interface {
	Activity(ctx context.Context, opts domain.ListOpts) ([]domain.Activity, error)
}

// ActivityHandler serves the activity log.
type ActivityHandler struct {
	activity ActivitySource
	logger   *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(activity ActivitySource, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{activity: activity, logger: logger}
}

type listActivityResponse struct {
	Activity []domain.Activity `json:"activity"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ListActivity returns recorded submissions, newest first.
// GET /api/activity?limit=50&offset=0&account=0x...&since=RFC3339
func (h *ActivityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	rows, err := h.activity.Activity(r.Context(), opts)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: list activity failed",
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, err.Error())
		return
	}
	if rows == nil {
		rows = []domain.Activity{}
	}
	writeJSON(w, http.StatusOK, listActivityResponse{
		Activity: rows,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}
