// Package recoverytest provides an in-memory ledger with the same
// conditional-update semantics as the Postgres repositories, for tests of
// the dispatcher, the sweeper and the HTTP handlers.
package recoverytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"recoverly/internal/types"
)

// Store implements the tenant, payment, retry and webhook-log stores.
// Setting Err* fields makes the matching operations fail.
type Store struct {
	mu       sync.Mutex
	seq      int
	tenants  map[string]*types.Tenant
	payments map[string]*types.PaymentRecord
	byKey    map[string]string
	retries  map[string]*types.RetryRecord
	logs     []*types.WebhookLog

	ErrUpsert   error
	ErrSchedule error
	ErrTenant   error
	ErrComplete error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		tenants:  map[string]*types.Tenant{},
		payments: map[string]*types.PaymentRecord{},
		byKey:    map[string]string{},
		retries:  map[string]*types.RetryRecord{},
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func invoiceKey(tenantID, invoiceID string) string { return tenantID + "|" + invoiceID }

func copyPayment(p *types.PaymentRecord) *types.PaymentRecord {
	c := *p
	return &c
}

// PutTenant stores t as-is.
func (s *Store) PutTenant(t *types.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.tenants[t.ID] = &c
}

func (s *Store) GetTenant(_ context.Context, id string) (*types.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrTenant != nil {
		return nil, s.ErrTenant
	}
	t, ok := s.tenants[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
	}
	c := *t
	return &c, nil
}

func (s *Store) UpsertFailed(_ context.Context, p *types.PaymentRecord) (*types.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrUpsert != nil {
		return nil, false, s.ErrUpsert
	}
	key := invoiceKey(p.TenantID, p.InvoiceID)
	if id, ok := s.byKey[key]; ok {
		return copyPayment(s.payments[id]), false, nil
	}
	rec := copyPayment(p)
	if rec.ID == "" {
		rec.ID = s.nextID("pay")
	}
	rec.Status = types.PaymentStatusFailed
	rec.RecoveredAt = nil
	s.payments[rec.ID] = rec
	s.byKey[key] = rec.ID
	return copyPayment(rec), true, nil
}

// PutPayment stores p directly, bypassing UpsertFailed.
func (s *Store) PutPayment(p *types.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := copyPayment(p)
	s.payments[rec.ID] = rec
	s.byKey[invoiceKey(rec.TenantID, rec.InvoiceID)] = rec.ID
}

// DeletePayment removes a payment, leaving its retries orphaned.
func (s *Store) DeletePayment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		delete(s.byKey, invoiceKey(p.TenantID, p.InvoiceID))
		delete(s.payments, id)
	}
}

func (s *Store) FindByInvoice(_ context.Context, tenantID, invoiceID string) (*types.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[invoiceKey(tenantID, invoiceID)]
	if !ok {
		return nil, nil
	}
	return copyPayment(s.payments[id]), nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*types.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return copyPayment(p), nil
}

func (s *Store) MarkRecovered(_ context.Context, paymentID string, at time.Time) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.Status != types.PaymentStatusFailed {
		return false, 0, nil
	}
	p.Status = types.PaymentStatusRecovered
	t := at
	p.RecoveredAt = &t

	cancelled := 0
	for _, r := range s.retries {
		if r.PaymentID == paymentID && r.Status == types.RetryStatusPending {
			r.Status = types.RetryStatusCancelled
			r.UpdatedAt = at
			cancelled++
		}
	}
	return true, cancelled, nil
}

// Payments returns every payment of tenantID ordered by creation.
func (s *Store) Payments(tenantID string) []*types.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PaymentRecord
	for _, p := range s.payments {
		if p.TenantID == tenantID {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ScheduleRetry(_ context.Context, paymentID string, retryNumber int, scheduledAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrSchedule != nil {
		return false, s.ErrSchedule
	}
	p, ok := s.payments[paymentID]
	if !ok || p.Status != types.PaymentStatusFailed {
		return false, nil
	}
	for _, r := range s.retries {
		if r.PaymentID == paymentID && r.RetryNumber == retryNumber {
			return false, nil
		}
	}
	id := s.nextID("rty")
	s.retries[id] = &types.RetryRecord{
		ID:          id,
		PaymentID:   paymentID,
		RetryNumber: retryNumber,
		ScheduledAt: scheduledAt,
		Status:      types.RetryStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return true, nil
}

// PutRetry stores r directly.
func (s *Store) PutRetry(r types.RetryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[r.ID] = &r
}

func claimable(r *types.RetryRecord, staleBefore time.Time) bool {
	return r.Status == types.RetryStatusPending ||
		(r.Status == types.RetryStatusSending && r.ClaimedAt != nil && r.ClaimedAt.Before(staleBefore))
}

func pastCursor(r *types.RetryRecord, c *types.RetryCursor) bool {
	if !r.ScheduledAt.Equal(c.ScheduledAt) {
		return r.ScheduledAt.After(c.ScheduledAt)
	}
	return r.ID > c.ID
}

func (s *Store) ListDue(_ context.Context, now, staleBefore time.Time, after *types.RetryCursor, limit int) ([]types.DueRetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.DueRetry
	for _, r := range s.retries {
		if r.ScheduledAt.After(now) || !claimable(r, staleBefore) {
			continue
		}
		if after != nil && !pastCursor(r, after) {
			continue
		}
		d := types.DueRetry{Retry: *r}
		if p, ok := s.payments[r.PaymentID]; ok {
			d.Payment = copyPayment(p)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Retry.ScheduledAt.Equal(out[j].Retry.ScheduledAt) {
			return out[i].Retry.ScheduledAt.Before(out[j].Retry.ScheduledAt)
		}
		return out[i].Retry.ID < out[j].Retry.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Claim(_ context.Context, retryID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[retryID]
	if !ok || !claimable(r, staleBefore) {
		return false, nil
	}
	t := now
	r.Status = types.RetryStatusSending
	r.ClaimedAt = &t
	r.UpdatedAt = now
	return true, nil
}

func (s *Store) Complete(_ context.Context, retryID string, status types.RetryStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrComplete != nil {
		return s.ErrComplete
	}
	r, ok := s.retries[retryID]
	if !ok || r.Status != types.RetryStatusSending {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "retry is no longer claimed", nil)
	}
	if status != types.RetryStatusSent && status != types.RetryStatusFailed {
		return errors.New("invalid completion status")
	}
	t := at
	r.Status = status
	r.SentAt = &t
	r.UpdatedAt = at
	return nil
}

func (s *Store) Release(_ context.Context, retryID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.retries[retryID]; ok && r.Status == types.RetryStatusSending {
		r.Status = types.RetryStatusPending
		r.ClaimedAt = nil
		r.UpdatedAt = at
	}
	return nil
}

func (s *Store) Cancel(_ context.Context, retryID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.retries[retryID]; ok && (r.Status == types.RetryStatusPending || r.Status == types.RetryStatusSending) {
		r.Status = types.RetryStatusCancelled
		r.UpdatedAt = at
	}
	return nil
}

// Retries returns the retries of paymentID ordered by retry number.
func (s *Store) Retries(paymentID string) []types.RetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.RetryRecord
	for _, r := range s.retries {
		if r.PaymentID == paymentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetryNumber < out[j].RetryNumber })
	return out
}

func (s *Store) Insert(_ context.Context, l *types.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *l
	if c.ID == "" {
		c.ID = s.nextID("whl")
	}
	s.logs = append(s.logs, &c)
	return nil
}

// Logs returns every webhook log written so far.
func (s *Store) Logs() []*types.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.WebhookLog(nil), s.logs...)
}

// Writes counts payments and retries, the ledger rows a rejected delivery
// must never create.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments) + len(s.retries)
}

// Notifier records notices instead of sending them.
type Notifier struct {
	mu    sync.Mutex
	Sent  []Notice
	Err   error
	Delay time.Duration
}

// Notice is one recorded Notify call.
type Notice struct {
	TenantID    string
	PaymentID   string
	To          string
	ReferenceID string
}

func (n *Notifier) Notify(ctx context.Context, tenant *types.Tenant, payment *types.PaymentRecord, referenceID string) (string, error) {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return "", n.Err
	}
	n.Sent = append(n.Sent, Notice{
		TenantID:    tenant.ID,
		PaymentID:   payment.ID,
		To:          payment.Recipient(),
		ReferenceID: referenceID,
	})
	return fmt.Sprintf("msg_%d", len(n.Sent)), nil
}

// Count returns the number of successful notices.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Sent)
}
