package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"recoverly/internal/core"
	"recoverly/internal/scheduler"
	"recoverly/internal/types"
)

// RetryProcessor runs one sweep of due retries.
type RetryProcessor interface {
	ProcessDueRetries(ctx context.Context, now time.Time) (scheduler.SweepResult, error)
	Now() time.Time
}

// RetryTriggerHandler exposes the sweep over HTTP for external schedulers.
// It must be mounted behind the cron bearer check.
type RetryTriggerHandler struct {
	sweeper RetryProcessor
	logger  *slog.Logger
}

// NewRetryTriggerHandler creates a RetryTriggerHandler.
func NewRetryTriggerHandler(sweeper RetryProcessor, logger *slog.Logger) *RetryTriggerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryTriggerHandler{sweeper: sweeper, logger: logger}
}

// RegisterRoutes mounts the trigger. GET is accepted for cron services that
// cannot send POST.
func (h *RetryTriggerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/retries/process", h.Process)
	r.Get("/retries/process", h.Process)
}

// Process sweeps retries due at the sweeper's clock, or at the optional
// reference_time query parameter (RFC 3339) when backfilling.
func (h *RetryTriggerHandler) Process(w http.ResponseWriter, r *http.Request) {
	now := h.sweeper.Now()
	if raw := r.URL.Query().Get("reference_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidQuery,
				"reference_time must be an RFC 3339 timestamp", err,
				map[string]any{"reference_time": raw}))
			return
		}
		now = t.UTC()
	}

	start := time.Now()
	res, err := h.sweeper.ProcessDueRetries(r.Context(), now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "retry sweep failed",
			"reference_time", now,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "retry sweep completed",
		"reference_time", now,
		"due", res.Due,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
		"deferred", res.Deferred,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	core.JSON(w, r, http.StatusOK, res)
}
