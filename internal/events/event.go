// Package events verifies provider webhook deliveries and decodes them into a
// closed set of event variants.
package events

import (
	"time"

	"recoverly/internal/types"
)

// Event is a verified provider event.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Payload Payload
}

// Payload is one of PaymentFailed, PaymentSucceeded or Unhandled.
type Payload interface {
	isPayload()
}

// PaymentFailed reports that an invoice payment attempt failed.
type PaymentFailed struct {
	Invoice Invoice
}

// PaymentSucceeded reports that an invoice was paid.
type PaymentSucceeded struct {
	Invoice Invoice
}

// Unhandled is any other event type. It is acknowledged and ignored.
type Unhandled struct{}

func (PaymentFailed) isPayload()    {}
func (PaymentSucceeded) isPayload() {}
func (Unhandled) isPayload()        {}

// Invoice is the subset of a provider invoice the ledger needs.
type Invoice struct {
	ID               string
	CustomerID       string
	CustomerEmail    string
	CustomerName     string
	LineDescription  string
	HostedInvoiceURL string
	Amount           types.Money
	Metadata         map[string]string
	// Populated only when the customer object was expanded in the payload.
	CustomerMetadata map[string]string
}

// Metadata keys that name the owning tenant in metadata-mode delivery.
var TenantMetadataKeys = []string{"tenant_id", "creator_id"}

// TenantFromMetadata returns the first tenant identifier found in m.
func TenantFromMetadata(m map[string]string) string {
	for _, k := range TenantMetadataKeys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
