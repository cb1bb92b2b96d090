package db

import (
	"context"
	"time"

	"recoverly/internal/types"
)

const retryColumns = `id, payment_id, retry_number, scheduled_at, sent_at, status, claimed_at, created_at, updated_at`

// RetryRepository provides access to the payment_retries table.
//
// A sweep moves a retry pending -> sending with Claim, then to a terminal
// state with Complete or Cancel, or back to pending with Release. Claim is a
// conditional update, so two concurrent sweeps never both own a retry.
type RetryRepository struct {
	db DBTX
}

// NewRetryRepository creates a RetryRepository.
func NewRetryRepository(db DBTX) *RetryRepository {
	return &RetryRepository{db: db}
}

// ScheduleRetry inserts retry retryNumber for paymentID at scheduledAt. It is
// a no-op, returning false, when that retry already exists or the payment is
// no longer failed.
func (r *RetryRepository) ScheduleRetry(ctx context.Context, paymentID string, retryNumber int, scheduledAt, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO payment_retries (id, payment_id, retry_number, scheduled_at, status, created_at, updated_at)
		 SELECT $1, p.id, $3, $4, 'pending', $5, $5
		 FROM payments p
		 WHERE p.id = $2 AND p.status = 'failed'
		 ON CONFLICT (payment_id, retry_number) DO NOTHING`,
		newID("rty"), paymentID, retryNumber, scheduledAt, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to schedule retry", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelPending cancels every pending retry of paymentID.
func (r *RetryRepository) CancelPending(ctx context.Context, paymentID string, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_retries SET status = 'cancelled', updated_at = $2
		 WHERE payment_id = $1 AND status = 'pending'`,
		paymentID, now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel retries", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListDue returns up to limit retries scheduled at or before now that are
// pending, or claimed before staleBefore and never completed. Each is joined
// with its payment; Payment is nil for orphans. A non-nil after restricts the
// page to rows ordered strictly after it, so retries that stay due (released
// claims) cannot hold later pages back.
func (r *RetryRepository) ListDue(ctx context.Context, now, staleBefore time.Time, after *types.RetryCursor, limit int) ([]types.DueRetry, error) {
	query := `SELECT r.id, r.payment_id, r.retry_number, r.scheduled_at, r.sent_at, r.status, r.claimed_at,
		        r.created_at, r.updated_at,
		        p.id, p.tenant_id, p.customer_id, p.invoice_id, p.customer_name, p.customer_email,
		        p.product_name, p.amount_minor, p.currency, p.status, p.invoice_url, p.created_at, p.recovered_at
		 FROM payment_retries r
		 LEFT JOIN payments p ON p.id = r.payment_id
		 WHERE r.scheduled_at <= $1
		   AND (r.status = 'pending' OR (r.status = 'sending' AND r.claimed_at < $2))`
	args := []any{now, staleBefore, limit}
	if after != nil {
		query += `
		   AND (r.scheduled_at, r.id) > ($4, $5)`
		args = append(args, after.ScheduledAt, after.ID)
	}
	query += `
		 ORDER BY r.scheduled_at, r.id
		 LIMIT $3`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due retries", err)
	}
	defer rows.Close()

	var out []types.DueRetry
	for rows.Next() {
		var (
			d           types.DueRetry
			retryStatus string
			np          nullablePayment
		)
		if err := rows.Scan(
			&d.Retry.ID, &d.Retry.PaymentID, &d.Retry.RetryNumber, &d.Retry.ScheduledAt, &d.Retry.SentAt,
			&retryStatus, &d.Retry.ClaimedAt, &d.Retry.CreatedAt, &d.Retry.UpdatedAt,
			&np.id, &np.tenantID, &np.customerID, &np.invoiceID, &np.customerName, &np.customerEmail,
			&np.productName, &np.amount, &np.currency, &np.status, &np.invoiceURL, &np.createdAt, &np.recoveredAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due retry", err)
		}
		d.Retry.Status = types.RetryStatus(retryStatus)
		d.Payment = np.record()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate due retries", err)
	}
	return out, nil
}

// Claim moves a retry to sending. It succeeds only if the retry is pending,
// or is a sending claim older than staleBefore. false means another sweep
// owns it or it is already done.
func (r *RetryRepository) Claim(ctx context.Context, retryID string, now, staleBefore time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_retries SET status = 'sending', claimed_at = $2, updated_at = $2
		 WHERE id = $1
		   AND (status = 'pending' OR (status = 'sending' AND claimed_at < $3))`,
		retryID, now, staleBefore,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim retry", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete records the outcome of a claimed retry. status must be sent or
// failed; sent_at is set to at.
func (r *RetryRepository) Complete(ctx context.Context, retryID string, status types.RetryStatus, at time.Time) error {
	if status != types.RetryStatusSent && status != types.RetryStatusFailed {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid completion status "+string(status), nil)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_retries SET status = $2, sent_at = $3, updated_at = $3
		 WHERE id = $1 AND status = 'sending'`,
		retryID, string(status), at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete retry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "retry is no longer claimed", nil)
	}
	return nil
}

// Release returns a claimed retry to pending so a later sweep picks it up.
func (r *RetryRepository) Release(ctx context.Context, retryID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_retries SET status = 'pending', claimed_at = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'sending'`,
		retryID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release retry", err)
	}
	return nil
}

// Cancel terminates a pending or claimed retry.
func (r *RetryRepository) Cancel(ctx context.Context, retryID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_retries SET status = 'cancelled', updated_at = $2
		 WHERE id = $1 AND status IN ('pending', 'sending')`,
		retryID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel retry", err)
	}
	return nil
}

// ListByPayment returns all retries of a payment ordered by retry number.
func (r *RetryRepository) ListByPayment(ctx context.Context, paymentID string) ([]types.RetryRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+retryColumns+` FROM payment_retries WHERE payment_id = $1 ORDER BY retry_number`,
		paymentID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retries", err)
	}
	defer rows.Close()

	var out []types.RetryRecord
	for rows.Next() {
		var (
			rec    types.RetryRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.PaymentID, &rec.RetryNumber, &rec.ScheduledAt, &rec.SentAt,
			&status, &rec.ClaimedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan retry", err)
		}
		rec.Status = types.RetryStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate retries", err)
	}
	return out, nil
}

// nullablePayment receives the LEFT JOINed payment columns of ListDue.
type nullablePayment struct {
	id, tenantID, customerID, invoiceID *string
	customerName, customerEmail         *string
	productName, currency, status       *string
	invoiceURL                          *string
	amount                              *int64
	createdAt, recoveredAt              *time.Time
}

func (n nullablePayment) record() *types.PaymentRecord {
	if n.id == nil {
		return nil
	}
	p := &types.PaymentRecord{
		ID:            *n.id,
		TenantID:      derefString(n.tenantID),
		CustomerID:    derefString(n.customerID),
		InvoiceID:     derefString(n.invoiceID),
		CustomerName:  derefString(n.customerName),
		CustomerEmail: n.customerEmail,
		ProductName:   derefString(n.productName),
		Status:        types.PaymentStatus(derefString(n.status)),
		InvoiceURL:    derefString(n.invoiceURL),
		RecoveredAt:   n.recoveredAt,
	}
	if n.amount != nil {
		p.Amount = types.Money{Amount: *n.amount, Currency: derefString(n.currency)}
	}
	if n.createdAt != nil {
		p.CreatedAt = *n.createdAt
	}
	return p
}
