package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"recoverly/internal/types"
)

// CredentialSealer encrypts tenant credentials before they are stored.
// Empty values round-trip as empty.
type CredentialSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// TenantRepository provides access to the tenants table.
type TenantRepository struct {
	db     DBTX
	sealer CredentialSealer
}

// NewTenantRepository creates a TenantRepository. Credentials are sealed with
// sealer on write and opened on read.
func NewTenantRepository(db DBTX, sealer CredentialSealer) *TenantRepository {
	return &TenantRepository{db: db, sealer: sealer}
}

// GetTenant returns the tenant with its credentials opened. A missing tenant
// is an ErrCodeNotFoundTenant AppError.
func (r *TenantRepository) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var (
		t                         types.Tenant
		apiKey, secret, notifyKey *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, provider_api_key_sealed, webhook_secret_sealed, notification_api_key_sealed,
		        email_subject, email_body, created_at, updated_at
		 FROM tenants WHERE id = $1`,
		id,
	).Scan(&t.ID, &apiKey, &secret, &notifyKey, &t.EmailSubject, &t.EmailBody, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load tenant", err)
	}

	opened := make([]string, 3)
	for i, sealed := range []*string{apiKey, secret, notifyKey} {
		if sealed == nil || *sealed == "" {
			continue
		}
		plain, err := r.sealer.Open(*sealed)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalCrypto, "failed to open tenant credentials", err)
		}
		opened[i] = plain
	}
	t.ProviderAPIKey = types.SecretString(opened[0])
	t.WebhookSecret = types.SecretString(opened[1])
	t.NotificationAPIKey = types.SecretString(opened[2])
	return &t, nil
}

// TenantUpdate carries a settings change. Nil fields are left unchanged.
type TenantUpdate struct {
	ProviderAPIKey     *types.SecretString
	WebhookSecret      *types.SecretString
	NotificationAPIKey *types.SecretString
	EmailSubject       *string
	EmailBody          *string
}

// UpsertTenant creates the tenant if needed and applies update, returning the
// stored row.
func (r *TenantRepository) UpsertTenant(ctx context.Context, id string, update TenantUpdate, now time.Time) (*types.Tenant, error) {
	sealed := make([]*string, 3)
	for i, v := range []*types.SecretString{update.ProviderAPIKey, update.WebhookSecret, update.NotificationAPIKey} {
		if v == nil {
			continue
		}
		s, err := r.sealer.Seal(v.Unmask())
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalCrypto, "failed to seal tenant credentials", err)
		}
		sealed[i] = &s
	}

	// $2..$6 are NULL when the field is not being changed.
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenants (id, provider_api_key_sealed, webhook_secret_sealed, notification_api_key_sealed,
		                      email_subject, email_body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, ''), COALESCE($6, ''), $7, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   provider_api_key_sealed     = COALESCE($2, tenants.provider_api_key_sealed),
		   webhook_secret_sealed       = COALESCE($3, tenants.webhook_secret_sealed),
		   notification_api_key_sealed = COALESCE($4, tenants.notification_api_key_sealed),
		   email_subject               = COALESCE($5, tenants.email_subject),
		   email_body                  = COALESCE($6, tenants.email_body),
		   updated_at                  = $7`,
		id, sealed[0], sealed[1], sealed[2], update.EmailSubject, update.EmailBody, now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to save tenant", err)
	}
	return r.GetTenant(ctx, id)
}
