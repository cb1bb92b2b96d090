package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"recoverly/internal/core"
	"recoverly/internal/db"
	"recoverly/internal/types"
)

// TenantSettingsStore reads and writes tenant configuration.
type TenantSettingsStore interface {
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	UpsertTenant(ctx context.Context, id string, update db.TenantUpdate, now time.Time) (*types.Tenant, error)
}

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UpdateSettingsRequest is the body of PUT /v1/tenants/{tenantID}/settings.
// Omitted fields are left unchanged. An empty subject or body reverts to the
// default copy.
type UpdateSettingsRequest struct {
	ProviderAPIKey     *string `json:"provider_api_key" validate:"omitempty,provider_secret_key,max=255"`
	WebhookSecret      *string `json:"webhook_secret" validate:"omitempty,webhook_secret,max=255"`
	NotificationAPIKey *string `json:"notification_api_key" validate:"omitempty,max=255"`
	EmailSubject       *string `json:"email_subject" validate:"omitempty,max=200,single_line"`
	EmailBody          *string `json:"email_body" validate:"omitempty,max=10000"`
}

// SettingsResponse is the redacted view of a tenant's settings. Credentials
// are reported as hints exposing at most their last four characters.
type SettingsResponse struct {
	TenantID           string     `json:"tenant_id"`
	Configured         bool       `json:"configured"`
	ProviderAPIKey     string     `json:"provider_api_key"`
	WebhookSecret      string     `json:"webhook_secret"`
	NotificationAPIKey string     `json:"notification_api_key"`
	EmailSubject       string     `json:"email_subject"`
	EmailBody          string     `json:"email_body"`
	WebhookURL         string     `json:"webhook_url"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// SettingsHandler manages per-tenant provider credentials and email copy.
// It must be mounted behind the admin key check.
type SettingsHandler struct {
	store     TenantSettingsStore
	validator *core.Validator
	publicURL string
	clock     types.Clock
	logger    *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler. publicURL is the externally
// reachable base URL used to build each tenant's webhook endpoint.
func NewSettingsHandler(store TenantSettingsStore, v *core.Validator, publicURL string, clock types.Clock, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(logger)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SettingsHandler{
		store:     store,
		validator: v,
		publicURL: strings.TrimRight(publicURL, "/"),
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the settings endpoints.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tenants/{tenantID}/settings", h.Get)
	r.Put("/tenants/{tenantID}/settings", h.Update)
}

// Get returns the tenant's settings. A tenant with no stored settings gets
// the defaults so the dashboard can render the onboarding form.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := tenantIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	tenant, err := h.store.GetTenant(r.Context(), id)
	switch {
	case types.CodeOf(err) == types.ErrCodeNotFoundTenant:
		tenant = &types.Tenant{ID: id}
	case err != nil:
		h.logger.ErrorContext(r.Context(), "failed to load tenant settings", "tenant_id", id, "error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, h.toResponse(tenant))
}

// Update creates the tenant if needed and applies the supplied fields.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := tenantIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateSettingsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.trimCredentials()
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tenant, err := h.store.UpsertTenant(r.Context(), id, req.toUpdate(), h.clock.Now())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to update tenant settings", "tenant_id", id, "error", err)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "tenant settings updated",
		"tenant_id", id,
		"configured", tenant.Configured(),
		"credentials_changed", req.ProviderAPIKey != nil || req.WebhookSecret != nil || req.NotificationAPIKey != nil,
	)
	core.JSON(w, r, http.StatusOK, h.toResponse(tenant))
}

// trimCredentials strips whitespace pasted around keys and secrets.
func (req *UpdateSettingsRequest) trimCredentials() {
	for _, f := range []*string{req.ProviderAPIKey, req.WebhookSecret, req.NotificationAPIKey} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

func (req UpdateSettingsRequest) toUpdate() db.TenantUpdate {
	secret := func(s *string) *types.SecretString {
		if s == nil {
			return nil
		}
		v := types.SecretString(*s)
		return &v
	}
	return db.TenantUpdate{
		ProviderAPIKey:     secret(req.ProviderAPIKey),
		WebhookSecret:      secret(req.WebhookSecret),
		NotificationAPIKey: secret(req.NotificationAPIKey),
		EmailSubject:       req.EmailSubject,
		EmailBody:          req.EmailBody,
	}
}

func (h *SettingsHandler) toResponse(t *types.Tenant) SettingsResponse {
	resp := SettingsResponse{
		TenantID:           t.ID,
		Configured:         t.Configured(),
		ProviderAPIKey:     t.ProviderAPIKey.Hint(),
		WebhookSecret:      t.WebhookSecret.Hint(),
		NotificationAPIKey: t.NotificationAPIKey.Hint(),
		EmailSubject:       t.Subject(),
		EmailBody:          t.Body(),
		WebhookURL:         h.publicURL + "/webhooks/stripe/" + t.ID,
	}
	if !t.UpdatedAt.IsZero() {
		updated := t.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

func tenantIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "tenantID")
	if !tenantIDPattern.MatchString(id) {
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidQuery,
			"tenant id must be 1-64 letters, digits, '_' or '-'", nil,
			map[string]any{"tenant_id": id})
	}
	return id, nil
}
