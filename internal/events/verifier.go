package events

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"recoverly/internal/types"
)

// DefaultTolerance is the accepted age of a signature timestamp.
const DefaultTolerance = webhook.DefaultTolerance

// Verifier checks Stripe-Signature headers and decodes the envelope. It is
// stateless and safe for concurrent use.
type Verifier struct {
	tolerance time.Duration
}

// NewVerifier returns a Verifier; tolerance <= 0 selects DefaultTolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{tolerance: tolerance}
}

// Verify authenticates body against header using secret and decodes it.
// Every failure is an *types.AppError with a webhook_* code; no partial event
// is ever returned.
func (v *Verifier) Verify(secret string, body []byte, header string) (*Event, error) {
	if strings.TrimSpace(header) == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookMissingSignature, "missing Stripe-Signature header", nil)
	}
	if secret == "" {
		return nil, types.NewAppError(types.ErrCodeTenantNotConfigured, "no signing secret configured", nil)
	}
	if err := webhook.ValidatePayloadWithTolerance(body, header, secret, v.tolerance); err != nil {
		return nil, classify(err)
	}
	return decode(body)
}

func classify(err error) *types.AppError {
	switch {
	case errors.Is(err, webhook.ErrNotSigned):
		return types.NewAppError(types.ErrCodeWebhookMissingSignature, "missing Stripe-Signature header", err)
	case errors.Is(err, webhook.ErrTooOld):
		return types.NewAppError(types.ErrCodeWebhookStaleTimestamp, "signature timestamp outside tolerance", err)
	case errors.Is(err, webhook.ErrInvalidHeader):
		return types.NewAppError(types.ErrCodeWebhookBadSignature, "malformed Stripe-Signature header", err)
	default:
		return types.NewAppError(types.ErrCodeWebhookBadSignature, "signature verification failed", err)
	}
}

func malformed(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeWebhookMalformedBody, msg, err)
}

func decode(body []byte) (*Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("event body is not valid JSON", err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, malformed("event is missing id or type", nil)
	}

	ev := &Event{
		ID:      raw.ID,
		Type:    string(raw.Type),
		Created: time.Unix(raw.Created, 0).UTC(),
	}

	switch raw.Type {
	case stripe.EventTypeInvoicePaymentFailed, stripe.EventTypeInvoicePaymentSucceeded:
		inv, err := decodeInvoice(raw.Data)
		if err != nil {
			return nil, err
		}
		if raw.Type == stripe.EventTypeInvoicePaymentFailed {
			ev.Payload = PaymentFailed{Invoice: inv}
		} else {
			ev.Payload = PaymentSucceeded{Invoice: inv}
		}
	default:
		ev.Payload = Unhandled{}
	}
	return ev, nil
}

func decodeInvoice(data *stripe.EventData) (Invoice, error) {
	if data == nil || len(data.Raw) == 0 {
		return Invoice{}, malformed("event has no data.object", nil)
	}
	var si stripe.Invoice
	if err := json.Unmarshal(data.Raw, &si); err != nil {
		return Invoice{}, malformed("data.object is not an invoice", err)
	}
	if si.ID == "" {
		return Invoice{}, malformed("invoice is missing id", nil)
	}

	inv := Invoice{
		ID:               si.ID,
		CustomerEmail:    si.CustomerEmail,
		CustomerName:     si.CustomerName,
		HostedInvoiceURL: si.HostedInvoiceURL,
		Amount:           types.Money{Amount: si.AmountDue, Currency: strings.ToLower(string(si.Currency))},
		Metadata:         si.Metadata,
	}
	if si.Customer != nil {
		inv.CustomerID = si.Customer.ID
		inv.CustomerMetadata = si.Customer.Metadata
		if inv.CustomerEmail == "" {
			inv.CustomerEmail = si.Customer.Email
		}
		if inv.CustomerName == "" {
			inv.CustomerName = si.Customer.Name
		}
	}
	if si.Lines != nil && len(si.Lines.Data) > 0 && si.Lines.Data[0] != nil {
		inv.LineDescription = si.Lines.Data[0].Description
	}
	return inv, nil
}
