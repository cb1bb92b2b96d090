package external

import (
	"context"

	"recoverly/internal/types"
)

// EmailProvider transmits a pre-rendered email and returns the provider's
// message ID.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// Provider names accepted by NewEmailProvider.
const (
	EmailProviderResend   = "resend"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "ses"
	EmailProviderStub     = "stub"
)
