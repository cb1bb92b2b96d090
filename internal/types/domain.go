package types

import (
	"fmt"
	"strings"
	"time"
)

// Default notification copy used when a tenant has not configured templates.
const (
	DefaultEmailSubject = "Please update your payment method"
	DefaultEmailBody    = "Your payment failed. Please update your payment method."
	DefaultProductName  = "Subscription"
	DefaultCustomerName = "Customer"
	DefaultUpdateLink   = "https://billing.stripe.com/"
)

// Tenant is an account that owns a provider integration. The provider
// credentials are held decrypted in memory and sealed at rest.
type Tenant struct {
	ID                 string       `json:"id"`
	ProviderAPIKey     SecretString `json:"provider_api_key"`
	WebhookSecret      SecretString `json:"webhook_secret"`
	NotificationAPIKey SecretString `json:"notification_api_key,omitempty"`
	EmailSubject       string       `json:"email_subject"`
	EmailBody          string       `json:"email_body"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Configured reports whether the tenant can receive verified events.
func (t *Tenant) Configured() bool {
	return t != nil && t.ProviderAPIKey.Unmask() != "" && t.WebhookSecret.Unmask() != ""
}

// Subject returns the tenant's subject template or the default.
func (t *Tenant) Subject() string {
	if t == nil || strings.TrimSpace(t.EmailSubject) == "" {
		return DefaultEmailSubject
	}
	return t.EmailSubject
}

// Body returns the tenant's body template or the default.
func (t *Tenant) Body() string {
	if t == nil || strings.TrimSpace(t.EmailBody) == "" {
		return DefaultEmailBody
	}
	return t.EmailBody
}

// Money is an amount in the currency's minor unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// zeroDecimal and threeDecimal list the currencies whose minor unit is not a
// hundredth, as Stripe charges them.
var (
	zeroDecimal = map[string]bool{
		"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
		"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
		"vuv": true, "xaf": true, "xof": true, "xpf": true,
	}
	threeDecimal = map[string]bool{
		"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
	}
)

// Exponent is the number of decimals in the currency's major unit.
func (m Money) Exponent() int {
	c := strings.ToLower(m.Currency)
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

// Major formats the amount in major units, e.g. 4900 usd -> "49.00" and
// 4900 jpy -> "4900".
func (m Money) Major() string {
	sign := ""
	amt := m.Amount
	if amt < 0 {
		sign = "-"
		amt = -amt
	}
	exp := m.Exponent()
	if exp == 0 {
		return fmt.Sprintf("%s%d", sign, amt)
	}
	unit := int64(1)
	for i := 0; i < exp; i++ {
		unit *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, amt/unit, exp, amt%unit)
}

// PaymentRecord is one failed-payment incident, keyed by (TenantID, InvoiceID).
type PaymentRecord struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	CustomerID    string        `json:"customer_id"`
	InvoiceID     string        `json:"invoice_id"`
	CustomerName  string        `json:"customer_name"`
	CustomerEmail *string       `json:"customer_email,omitempty"`
	ProductName   string        `json:"product_name"`
	Amount        Money         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	InvoiceURL    string        `json:"invoice_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	RecoveredAt   *time.Time    `json:"recovered_at,omitempty"`
}

// Recipient returns the customer email, or "" when none is known.
func (p *PaymentRecord) Recipient() string {
	if p == nil || p.CustomerEmail == nil {
		return ""
	}
	return strings.TrimSpace(*p.CustomerEmail)
}

// RetryRecord is one scheduled notification attempt for a PaymentRecord.
type RetryRecord struct {
	ID          string      `json:"id"`
	PaymentID   string      `json:"payment_id"`
	RetryNumber int         `json:"retry_number"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	SentAt      *time.Time  `json:"sent_at,omitempty"`
	Status      RetryStatus `json:"status"`
	ClaimedAt   *time.Time  `json:"claimed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DueRetry is a retry eligible for sending joined with its owning payment.
// Payment is nil when the payment row no longer exists.
type DueRetry struct {
	Retry   RetryRecord
	Payment *PaymentRecord
}

// RetryCursor is a position in the (scheduled_at, id) ordering of due
// retries. Listing after a cursor returns only rows strictly past it.
type RetryCursor struct {
	ScheduledAt time.Time
	ID          string
}

// Cursor returns the position of d in the due ordering.
func (d DueRetry) Cursor() *RetryCursor {
	return &RetryCursor{ScheduledAt: d.Retry.ScheduledAt, ID: d.Retry.ID}
}

// WebhookLog is the audit record written for every webhook call.
type WebhookLog struct {
	ID           string           `json:"id"`
	TenantID     *string          `json:"tenant_id,omitempty"`
	EventID      string           `json:"event_id,omitempty"`
	EventType    string           `json:"event_type,omitempty"`
	Status       WebhookLogStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Payload      []byte           `json:"-"`
	ProcessedAt  time.Time        `json:"processed_at"`
}

// PaymentSummary aggregates a tenant's ledger for the dashboard listing.
type PaymentSummary struct {
	TotalFailed      int     `json:"total_failed"`
	TotalRecovered   int     `json:"total_recovered"`
	RecoveredRevenue []Money `json:"recovered_revenue"`
	RecoveryRate     float64 `json:"recovery_rate"`
}

// Summarize computes totals over records. Revenue is grouped by currency in
// first-seen order. Failed counts every incident, recovered or not.
func Summarize(records []*PaymentRecord) PaymentSummary {
	var s PaymentSummary
	idx := map[string]int{}
	for _, p := range records {
		s.TotalFailed++
		if p.Status != PaymentStatusRecovered {
			continue
		}
		s.TotalRecovered++
		cur := strings.ToLower(p.Amount.Currency)
		i, ok := idx[cur]
		if !ok {
			i = len(s.RecoveredRevenue)
			idx[cur] = i
			s.RecoveredRevenue = append(s.RecoveredRevenue, Money{Currency: cur})
		}
		s.RecoveredRevenue[i].Amount += p.Amount.Amount
	}
	if s.TotalFailed > 0 {
		s.RecoveryRate = float64(s.TotalRecovered) / float64(s.TotalFailed) * 100
	}
	if s.RecoveredRevenue == nil {
		s.RecoveredRevenue = []Money{}
	}
	return s
}
