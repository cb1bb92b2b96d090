package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recoverly/internal/events"
	"recoverly/internal/external"
	"recoverly/internal/types"
)

// DispatchResult reports what Handle did with a verified event.
type DispatchResult struct {
	TenantID         string                `json:"tenant_id,omitempty"`
	EventID          string                `json:"event_id"`
	EventType        string                `json:"event_type"`
	Outcome          types.DispatchOutcome `json:"outcome"`
	PaymentID        string                `json:"payment_id,omitempty"`
	Notified         bool                  `json:"notified"`
	RetryScheduled   bool                  `json:"retry_scheduled"`
	RetriesCancelled int                   `json:"retries_cancelled,omitempty"`
	// Downstream failures that did not prevent acknowledging the event.
	Warnings []string `json:"warnings,omitempty"`
}

func (r *DispatchResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// DispatcherConfig holds Dispatcher dependencies. Customers is optional and
// only used to fill in a missing customer email or name.
type DispatcherConfig struct {
	Auth      Authenticator
	Payments  PaymentStore
	Retries   RetryStore
	Logs      WebhookLogStore
	Notifier  Notifier
	Customers external.CustomerLookup
	Policy    Policy
	Clock     types.Clock
	Logger    *slog.Logger
}

// Dispatcher applies verified provider events to the ledger.
type Dispatcher struct {
	auth      Authenticator
	payments  PaymentStore
	retries   RetryStore
	logs      WebhookLogStore
	notifier  Notifier
	customers external.CustomerLookup
	policy    Policy
	clock     types.Clock
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.MaxRetries() == 0 {
		cfg.Policy = DefaultPolicy()
	}
	return &Dispatcher{
		auth:      cfg.Auth,
		payments:  cfg.Payments,
		retries:   cfg.Retries,
		logs:      cfg.Logs,
		notifier:  cfg.Notifier,
		customers: cfg.Customers,
		policy:    cfg.Policy,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Handle authenticates one delivery and applies it.
//
// A returned error is a request-level failure (unreadable body, tenant not
// configured, verification failed, tenant lookup failed) and nothing was
// written to the ledger. Once the event is verified Handle always returns a result and a nil
// error; ledger or notification failures are logged and listed in
// DispatchResult.Warnings so the provider does not redeliver.
//
// Every call writes one WebhookLog entry.
func (d *Dispatcher) Handle(ctx context.Context, in InboundWebhook) (res *DispatchResult, err error) {
	var (
		tenant *types.Tenant
		ev     *events.Event
	)
	defer func() {
		d.audit(ctx, in, tenant, ev, res, err)
	}()

	if in.ReadErr != nil {
		d.logger.WarnContext(ctx, "webhook body unreadable",
			"tenant_id", in.TenantID,
			"error", in.ReadErr,
		)
		return nil, in.ReadErr
	}

	tenant, ev, err = d.auth.Authenticate(ctx, in)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook rejected",
			"tenant_id", in.TenantID,
			"code", types.CodeOf(err),
			"error", err,
		)
		return nil, err
	}

	res = &DispatchResult{EventID: ev.ID, EventType: ev.Type}
	if tenant != nil {
		res.TenantID = tenant.ID
	}

	switch p := ev.Payload.(type) {
	case events.PaymentFailed:
		d.handleFailed(ctx, tenant, p.Invoice, res)
	case events.PaymentSucceeded:
		d.handleSucceeded(ctx, tenant, p.Invoice, res)
	default:
		res.Outcome = types.OutcomeUnhandled
	}

	d.logger.InfoContext(ctx, "webhook handled",
		"tenant_id", res.TenantID,
		"event_id", res.EventID,
		"event_type", res.EventType,
		"outcome", res.Outcome,
		"payment_id", res.PaymentID,
	)
	return res, nil
}

func (d *Dispatcher) handleFailed(ctx context.Context, tenant *types.Tenant, inv events.Invoice, res *DispatchResult) {
	now := d.clock.Now()
	record := d.newPaymentRecord(ctx, tenant, inv, now)

	payment, created, err := d.payments.UpsertFailed(ctx, record)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to record payment failure",
			"tenant_id", tenant.ID, "invoice_id", inv.ID, "error", err)
		res.Outcome = types.OutcomeFailed
		res.warn("ledger write failed: %v", err)
		return
	}
	res.PaymentID = payment.ID

	if !created {
		// Redelivery, or a later failure for an invoice already recovered.
		if payment.Status == types.PaymentStatusRecovered {
			res.Outcome = types.OutcomeIgnored
			return
		}
		res.Outcome = types.OutcomeDuplicate
		// Heals a campaign whose first retry was never stored. A no-op when
		// it exists.
		from := payment.CreatedAt
		if from.IsZero() {
			from = now
		}
		d.scheduleFirstRetry(ctx, payment, from, now, res)
		return
	}
	res.Outcome = types.OutcomeRecorded

	if payment.Recipient() == "" {
		d.logger.InfoContext(ctx, "payment has no recipient; skipping immediate notice", "payment_id", payment.ID)
	} else if _, err := d.notifier.Notify(ctx, tenant, payment, ReferenceID(payment.ID, 0)); err != nil {
		res.warn("immediate notice failed: %v", err)
	} else {
		res.Notified = true
	}

	d.scheduleFirstRetry(ctx, payment, now, now, res)
}

// scheduleFirstRetry stores retry 1 of payment, timed from the original
// failure at from.
func (d *Dispatcher) scheduleFirstRetry(ctx context.Context, payment *types.PaymentRecord, from, now time.Time, res *DispatchResult) {
	next, at, ok := d.policy.Next(0, from)
	if !ok {
		return
	}
	scheduled, err := d.retries.ScheduleRetry(ctx, payment.ID, next, at, now)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to schedule retry",
			"payment_id", payment.ID, "retry_number", next, "error", err)
		res.warn("retry scheduling failed: %v", err)
		return
	}
	res.RetryScheduled = scheduled
}

func (d *Dispatcher) handleSucceeded(ctx context.Context, tenant *types.Tenant, inv events.Invoice, res *DispatchResult) {
	payment, err := d.payments.FindByInvoice(ctx, tenant.ID, inv.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to look up payment",
			"tenant_id", tenant.ID, "invoice_id", inv.ID, "error", err)
		res.Outcome = types.OutcomeFailed
		res.warn("ledger read failed: %v", err)
		return
	}
	if payment == nil {
		// Most successful payments never failed first.
		res.Outcome = types.OutcomeIgnored
		return
	}
	res.PaymentID = payment.ID
	if payment.Status == types.PaymentStatusRecovered {
		res.Outcome = types.OutcomeDuplicate
		return
	}

	recovered, cancelled, err := d.payments.MarkRecovered(ctx, payment.ID, d.clock.Now())
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to mark payment recovered",
			"payment_id", payment.ID, "error", err)
		res.Outcome = types.OutcomeFailed
		res.warn("ledger write failed: %v", err)
		return
	}
	if !recovered {
		res.Outcome = types.OutcomeDuplicate
		return
	}
	res.Outcome = types.OutcomeRecovered
	res.RetriesCancelled = cancelled
}

// newPaymentRecord maps the invoice onto a ledger row, asking the provider
// for the customer when the invoice lacks an email.
func (d *Dispatcher) newPaymentRecord(ctx context.Context, tenant *types.Tenant, inv events.Invoice, now time.Time) *types.PaymentRecord {
	email, name := inv.CustomerEmail, inv.CustomerName
	if email == "" && inv.CustomerID != "" && d.customers != nil {
		cus, err := d.customers.GetCustomer(ctx, tenant.ProviderAPIKey.Unmask(), inv.CustomerID)
		if err != nil {
			d.logger.WarnContext(ctx, "customer lookup failed",
				"tenant_id", tenant.ID, "customer_id", inv.CustomerID, "error", err)
		} else {
			email = cus.Email
			if name == "" {
				name = cus.Name
			}
		}
	}

	rec := &types.PaymentRecord{
		TenantID:    tenant.ID,
		CustomerID:  inv.CustomerID,
		InvoiceID:   inv.ID,
		ProductName: firstNonEmpty(inv.LineDescription, types.DefaultProductName),
		Amount:      inv.Amount,
		Status:      types.PaymentStatusFailed,
		InvoiceURL:  inv.HostedInvoiceURL,
		CreatedAt:   now,
	}
	if email = strings.TrimSpace(email); email != "" {
		rec.CustomerEmail = &email
	}
	rec.CustomerName = firstNonEmpty(name, email, types.DefaultCustomerName)
	return rec
}

func (d *Dispatcher) audit(ctx context.Context, in InboundWebhook, tenant *types.Tenant, ev *events.Event, res *DispatchResult, err error) {
	if d.logs == nil {
		return
	}
	entry := &types.WebhookLog{ProcessedAt: d.clock.Now()}
	if tenant != nil {
		id := tenant.ID
		entry.TenantID = &id
	} else if in.TenantID != "" && types.CodeOf(err) != types.ErrCodeTenantNotConfigured {
		id := in.TenantID
		entry.TenantID = &id
	}
	if ev != nil {
		entry.EventID = ev.ID
		entry.EventType = ev.Type
		entry.Payload = in.Body
	}

	switch {
	case err != nil:
		entry.Status = types.WebhookLogFailed
		entry.ErrorMessage = err.Error()
	case res.Outcome == types.OutcomeFailed:
		entry.Status = types.WebhookLogFailed
		entry.ErrorMessage = strings.Join(res.Warnings, "; ")
	case res.Outcome == types.OutcomeUnhandled || res.Outcome == types.OutcomeIgnored:
		entry.Status = types.WebhookLogIgnored
	default:
		entry.Status = types.WebhookLogSuccess
		entry.ErrorMessage = strings.Join(res.Warnings, "; ")
	}

	// The request may already be cancelled; the audit row is still wanted.
	if insErr := d.logs.Insert(context.WithoutCancel(ctx), entry); insErr != nil {
		d.logger.ErrorContext(ctx, "failed to write webhook log", "error", insErr)
	}
}

// ReferenceID identifies notification attempt retryNumber of a payment for
// provider-side de-duplication.
func ReferenceID(paymentID string, retryNumber int) string {
	return fmt.Sprintf("%s-%d", paymentID, retryNumber)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
