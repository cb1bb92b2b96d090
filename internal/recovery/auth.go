package recovery

import (
	"context"
	"log/slog"

	"recoverly/internal/events"
	"recoverly/internal/external"
	"recoverly/internal/types"
)

// InboundWebhook is one delivery as received over HTTP.
type InboundWebhook struct {
	// Empty in metadata mode.
	TenantID  string
	Body      []byte
	Signature string
	// ReadErr is set when the body could not be read in full. Handle
	// records it and returns it without authenticating.
	ReadErr error
}

// Authenticator resolves the owning tenant of a delivery and verifies it.
// On error no event is returned and nothing may be written to the ledger.
// The tenant is nil only for events that carry no tenant reference, which
// the dispatcher acknowledges as unhandled.
type Authenticator interface {
	Authenticate(ctx context.Context, in InboundWebhook) (*types.Tenant, *events.Event, error)
}

func notConfigured(tenantID, msg string) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeTenantNotConfigured, msg, nil,
		map[string]any{"tenant_id": tenantID})
}

// loadConfigured fetches a tenant that can receive verified events.
func loadConfigured(ctx context.Context, tenants TenantStore, tenantID string) (*types.Tenant, error) {
	if tenantID == "" {
		return nil, notConfigured("", "tenant id is required")
	}
	tenant, err := tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundTenant {
			return nil, notConfigured(tenantID, "tenant has no webhook configuration")
		}
		return nil, err
	}
	if !tenant.Configured() {
		return nil, notConfigured(tenantID, "tenant is missing its provider API key or webhook secret")
	}
	return tenant, nil
}

// PathAuthenticator takes the tenant from the request path and verifies the
// signature with that tenant's own secret.
type PathAuthenticator struct {
	tenants  TenantStore
	verifier *events.Verifier
}

// NewPathAuthenticator creates a PathAuthenticator.
func NewPathAuthenticator(tenants TenantStore, verifier *events.Verifier) *PathAuthenticator {
	return &PathAuthenticator{tenants: tenants, verifier: verifier}
}

func (a *PathAuthenticator) Authenticate(ctx context.Context, in InboundWebhook) (*types.Tenant, *events.Event, error) {
	tenant, err := loadConfigured(ctx, a.tenants, in.TenantID)
	if err != nil {
		return nil, nil, err
	}
	ev, err := a.verifier.Verify(tenant.WebhookSecret.Unmask(), in.Body, in.Signature)
	if err != nil {
		return tenant, nil, err
	}
	return tenant, ev, nil
}

// MetadataAuthenticator verifies with one process-wide secret, then finds
// the tenant from invoice metadata or, failing that, from the metadata of
// the provider customer fetched with the process-wide key.
//
// Deprecated: deliveries without tenant metadata are rejected. Use
// PathAuthenticator.
type MetadataAuthenticator struct {
	tenants   TenantStore
	verifier  *events.Verifier
	customers external.CustomerLookup
	secret    types.SecretString
	apiKey    types.SecretString
	logger    *slog.Logger
}

// NewMetadataAuthenticator creates a MetadataAuthenticator.
func NewMetadataAuthenticator(
	tenants TenantStore,
	verifier *events.Verifier,
	customers external.CustomerLookup,
	secret, apiKey types.SecretString,
	logger *slog.Logger,
) *MetadataAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataAuthenticator{
		tenants:   tenants,
		verifier:  verifier,
		customers: customers,
		secret:    secret,
		apiKey:    apiKey,
		logger:    logger,
	}
}

func (a *MetadataAuthenticator) Authenticate(ctx context.Context, in InboundWebhook) (*types.Tenant, *events.Event, error) {
	if !a.secret.IsSet() {
		return nil, nil, notConfigured("", "metadata-mode webhook secret is not configured")
	}
	ev, err := a.verifier.Verify(a.secret.Unmask(), in.Body, in.Signature)
	if err != nil {
		return nil, nil, err
	}

	var inv events.Invoice
	switch p := ev.Payload.(type) {
	case events.PaymentFailed:
		inv = p.Invoice
	case events.PaymentSucceeded:
		inv = p.Invoice
	default:
		return nil, ev, nil
	}

	tenantID, err := a.resolveTenantID(ctx, inv)
	if err != nil {
		return nil, nil, err
	}
	tenant, err := loadConfigured(ctx, a.tenants, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return tenant, ev, nil
}

func (a *MetadataAuthenticator) resolveTenantID(ctx context.Context, inv events.Invoice) (string, error) {
	if id := events.TenantFromMetadata(inv.Metadata); id != "" {
		return id, nil
	}
	if id := events.TenantFromMetadata(inv.CustomerMetadata); id != "" {
		return id, nil
	}
	if inv.CustomerID == "" || a.customers == nil || !a.apiKey.IsSet() {
		return "", notConfigured("", "event carries no tenant metadata")
	}

	cus, err := a.customers.GetCustomer(ctx, a.apiKey.Unmask(), inv.CustomerID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundTenant {
			return "", notConfigured("", "customer for event not found")
		}
		return "", err
	}
	id := events.TenantFromMetadata(cus.Metadata)
	if id == "" {
		a.logger.WarnContext(ctx, "customer has no tenant metadata", "customer_id", inv.CustomerID)
		return "", notConfigured("", "customer carries no tenant metadata")
	}
	return id, nil
}

var (
	_ Authenticator = (*PathAuthenticator)(nil)
	_ Authenticator = (*MetadataAuthenticator)(nil)
)
