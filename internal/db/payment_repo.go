package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"recoverly/internal/types"
)

const paymentColumns = `id, tenant_id, customer_id, invoice_id, customer_name, customer_email,
	product_name, amount_minor, currency, status, invoice_url, created_at, recovered_at`

// PaymentRepository provides access to the payments table.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a PaymentRepository.
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row pgx.Row) (*types.PaymentRecord, error) {
	var (
		p          types.PaymentRecord
		status     string
		invoiceURL *string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.CustomerID, &p.InvoiceID, &p.CustomerName, &p.CustomerEmail,
		&p.ProductName, &p.Amount.Amount, &p.Amount.Currency, &status, &invoiceURL,
		&p.CreatedAt, &p.RecoveredAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = types.PaymentStatus(status)
	p.InvoiceURL = derefString(invoiceURL)
	return &p, nil
}

// UpsertFailed inserts p as a failed payment unless a record already exists
// for (TenantID, InvoiceID). It returns the stored record and whether this
// call created it. An existing record is returned untouched, whatever its
// status.
func (r *PaymentRepository) UpsertFailed(ctx context.Context, p *types.PaymentRecord) (*types.PaymentRecord, bool, error) {
	id := p.ID
	if id == "" {
		id = newID("pay")
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO payments (id, tenant_id, customer_id, invoice_id, customer_name, customer_email,
		                       product_name, amount_minor, currency, status, invoice_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'failed', $10, $11)
		 ON CONFLICT (tenant_id, invoice_id) DO NOTHING
		 RETURNING `+paymentColumns,
		id, p.TenantID, p.CustomerID, p.InvoiceID, p.CustomerName, p.CustomerEmail,
		p.ProductName, p.Amount.Amount, p.Amount.Currency, nilIfEmpty(p.InvoiceURL), createdAt,
	)
	created, err := scanPayment(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment", err)
	}

	existing, err := r.FindByInvoice(ctx, p.TenantID, p.InvoiceID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, types.NewAppError(types.ErrCodeConflictConcurrent, "payment vanished during upsert", nil)
	}
	return existing, false, nil
}

// FindByInvoice returns the record for (tenantID, invoiceID), or nil when none
// exists.
func (r *PaymentRepository) FindByInvoice(ctx context.Context, tenantID, invoiceID string) (*types.PaymentRecord, error) {
	p, err := scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND invoice_id = $2`,
		tenantID, invoiceID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find payment", err)
	}
	return p, nil
}

// GetPayment returns the record by ID, or nil when none exists.
func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*types.PaymentRecord, error) {
	p, err := scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load payment", err)
	}
	return p, nil
}

// MarkRecovered moves a failed payment to recovered and cancels its pending
// retries in a single statement. recovered is false when the payment was not
// in the failed state (already recovered or missing); no retries are touched
// in that case.
func (r *PaymentRepository) MarkRecovered(ctx context.Context, paymentID string, at time.Time) (recovered bool, cancelled int, err error) {
	var recoveredCount int
	err = r.db.QueryRow(ctx,
		`WITH recovered AS (
		   UPDATE payments SET status = 'recovered', recovered_at = $2
		   WHERE id = $1 AND status = 'failed'
		   RETURNING id
		 ), cancelled AS (
		   UPDATE payment_retries SET status = 'cancelled', updated_at = $2
		   WHERE payment_id IN (SELECT id FROM recovered) AND status = 'pending'
		   RETURNING id
		 )
		 SELECT (SELECT COUNT(*) FROM recovered), (SELECT COUNT(*) FROM cancelled)`,
		paymentID, at,
	).Scan(&recoveredCount, &cancelled)
	if err != nil {
		return false, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark payment recovered", err)
	}
	return recoveredCount == 1, cancelled, nil
}

// PaymentFilter narrows ListByTenant. Zero values mean no filter.
type PaymentFilter struct {
	Status types.PaymentStatus
	Limit  int
}

const defaultPaymentListLimit = 500

// ListByTenant returns a tenant's payments, newest first.
func (r *PaymentRepository) ListByTenant(ctx context.Context, tenantID string, f PaymentFilter) ([]*types.PaymentRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > defaultPaymentListLimit {
		limit = defaultPaymentListLimit
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		tenantID, string(f.Status), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payments", err)
	}
	defer rows.Close()

	var out []*types.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payments", err)
	}
	return out, nil
}
