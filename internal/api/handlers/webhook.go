// Package handlers contains the HTTP handler implementations for the
// Recoverly API.
//
// The webhook routes are NOT behind auth middleware. They are called directly
// by Stripe and authenticated by the tenant's Stripe-Signature verification
// inside the dispatcher.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"recoverly/internal/core"
	"recoverly/internal/recovery"
	"recoverly/internal/types"
)

// DefaultMaxWebhookBody caps a webhook payload when no limit is configured.
const DefaultMaxWebhookBody = 64 * 1024

// WebhookDispatcher applies one inbound delivery. recovery.Dispatcher
// implements it for both path and metadata authentication.
type WebhookDispatcher interface {
	Handle(ctx context.Context, in recovery.InboundWebhook) (*recovery.DispatchResult, error)
}

// WebhookResponse acknowledges a verified event.
type WebhookResponse struct {
	Received bool `json:"received"`
	*recovery.DispatchResult
}

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	path    WebhookDispatcher
	legacy  WebhookDispatcher
	maxBody int64
	logger  *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. legacy serves the deprecated
// tenant-less route and may be nil to disable it.
func NewWebhookHandler(path, legacy WebhookDispatcher, maxBody int64, logger *slog.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = DefaultMaxWebhookBody
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{path: path, legacy: legacy, maxBody: maxBody, logger: logger}
}

// RegisterRoutes mounts the webhook endpoints at the router root.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe/{tenantID}", h.HandleTenant)
	if h.legacy != nil {
		r.Post("/webhooks/stripe", h.HandleLegacy)
	}
}

// HandleTenant processes a delivery addressed to one tenant's endpoint.
func (h *WebhookHandler) HandleTenant(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.path, chi.URLParam(r, "tenantID"))
}

// HandleLegacy processes a delivery on the shared endpoint. The tenant is
// resolved from the invoice metadata, falling back to the customer metadata.
func (h *WebhookHandler) HandleLegacy(w http.ResponseWriter, r *http.Request) {
	h.logger.WarnContext(r.Context(), "deprecated shared webhook endpoint called",
		"remote_addr", r.RemoteAddr,
	)
	h.serve(w, r, h.legacy, "")
}

func (h *WebhookHandler) serve(w http.ResponseWriter, r *http.Request, d WebhookDispatcher, tenantID string) {
	in := recovery.InboundWebhook{
		TenantID:  tenantID,
		Signature: r.Header.Get("Stripe-Signature"),
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		msg := "failed to read request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "webhook payload too large"
		}
		// The dispatcher still audits the call.
		in.ReadErr = types.NewAppError(types.ErrCodeValidationInvalidBody, msg, err)
	} else {
		in.Body = payload
	}

	res, err := d.Handle(r.Context(), in)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Verified events are acknowledged even when downstream work failed;
	// failures are reported in warnings and the audit log.
	core.JSON(w, r, http.StatusOK, WebhookResponse{Received: true, DispatchResult: res})
}
