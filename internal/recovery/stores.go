package recovery

import (
	"context"
	"time"

	"recoverly/internal/types"
)

// TenantStore reads tenant configuration.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
}

// PaymentStore is the ledger write path used by the dispatcher.
type PaymentStore interface {
	UpsertFailed(ctx context.Context, p *types.PaymentRecord) (*types.PaymentRecord, bool, error)
	FindByInvoice(ctx context.Context, tenantID, invoiceID string) (*types.PaymentRecord, error)
	MarkRecovered(ctx context.Context, paymentID string, at time.Time) (recovered bool, cancelled int, err error)
}

// RetryStore schedules retry records.
type RetryStore interface {
	ScheduleRetry(ctx context.Context, paymentID string, retryNumber int, scheduledAt, now time.Time) (bool, error)
}

// WebhookLogStore persists the per-call audit record.
type WebhookLogStore interface {
	Insert(ctx context.Context, l *types.WebhookLog) error
}

// Notifier delivers the payment-failure notice for one payment.
type Notifier interface {
	Notify(ctx context.Context, tenant *types.Tenant, payment *types.PaymentRecord, referenceID string) (string, error)
}
