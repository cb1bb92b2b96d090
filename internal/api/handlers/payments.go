package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"recoverly/internal/core"
	"recoverly/internal/db"
	"recoverly/internal/types"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
	maxPaymentLimit = 500
)

// PaymentLister reads a tenant's ledger.
type PaymentLister interface {
	ListByTenant(ctx context.Context, tenantID string, f db.PaymentFilter) ([]*types.PaymentRecord, error)
}

// WebhookLogLister reads a tenant's webhook audit trail.
type WebhookLogLister interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*types.WebhookLog, error)
}

// PaymentListResponse is the ledger view with its aggregate summary. The
// summary covers the returned records only.
type PaymentListResponse struct {
	Summary  types.PaymentSummary   `json:"summary"`
	Payments []*types.PaymentRecord `json:"payments"`
}

// WebhookLogListResponse lists recent webhook calls, newest first.
type WebhookLogListResponse struct {
	Logs []*types.WebhookLog `json:"logs"`
}

// LedgerHandler serves read-only ledger views. It must be mounted behind the
// admin key check.
type LedgerHandler struct {
	payments PaymentLister
	logs     WebhookLogLister
	logger   *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(payments PaymentLister, logs WebhookLogLister, logger *slog.Logger) *LedgerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerHandler{payments: payments, logs: logs, logger: logger}
}

// RegisterRoutes mounts the ledger endpoints.
func (h *LedgerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tenants/{tenantID}/payments", h.ListPayments)
	r.Get("/tenants/{tenantID}/webhook-logs", h.ListWebhookLogs)
}

// ListPayments handles GET /v1/tenants/{tenantID}/payments?status=&limit=.
func (h *LedgerHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := tenantIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	filter := db.PaymentFilter{Status: types.PaymentStatus(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidQuery,
			"status must be one of: failed, recovered", nil,
			map[string]any{"status": string(filter.Status)}))
		return
	}
	if filter.Limit, err = parseLimit(r, maxPaymentLimit, maxPaymentLimit); err != nil {
		core.Error(w, r, err)
		return
	}

	records, err := h.payments.ListByTenant(r.Context(), id, filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list payments", "tenant_id", id, "error", err)
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []*types.PaymentRecord{}
	}
	core.JSON(w, r, http.StatusOK, PaymentListResponse{
		Summary:  types.Summarize(records),
		Payments: records,
	})
}

// ListWebhookLogs handles GET /v1/tenants/{tenantID}/webhook-logs?limit=.
func (h *LedgerHandler) ListWebhookLogs(w http.ResponseWriter, r *http.Request) {
	id, err := tenantIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	logs, err := h.logs.ListByTenant(r.Context(), id, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list webhook logs", "tenant_id", id, "error", err)
		core.Error(w, r, err)
		return
	}
	if logs == nil {
		logs = []*types.WebhookLog{}
	}
	core.JSON(w, r, http.StatusOK, WebhookLogListResponse{Logs: logs})
}

// parseLimit reads the optional limit query parameter, clamped to max.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidQuery,
			"limit must be a positive integer", err,
			map[string]any{"limit": raw})
	}
	if n > max {
		n = max
	}
	return n, nil
}
