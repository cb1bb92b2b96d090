package email

import (
	"context"
	"log/slog"
	"time"

	"recoverly/internal/external"
	"recoverly/internal/types"
)

// NotifierConfig holds Notifier dependencies.
type NotifierConfig struct {
	Provider external.EmailProvider
	Renderer *Renderer
	From     types.SenderIdentity
	// Bounds each provider call. Zero means no extra deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Notifier renders and sends a payment-failure notice for one payment.
type Notifier struct {
	provider external.EmailProvider
	renderer *Renderer
	from     types.SenderIdentity
	timeout  time.Duration
	logger   *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		provider: cfg.Provider,
		renderer: cfg.Renderer,
		from:     cfg.From,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Notify sends the notice for payment on behalf of tenant and returns the
// provider message ID. The tenant's own notification key is used when set,
// otherwise the provider default. referenceID is passed to the provider for
// correlation and de-duplication.
func (n *Notifier) Notify(ctx context.Context, tenant *types.Tenant, payment *types.PaymentRecord, referenceID string) (string, error) {
	to := payment.Recipient()
	if to == "" {
		return "", ErrNoRecipient
	}

	msg, err := n.renderer.Render(tenant, payment)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render notice", err)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	start := time.Now()
	msgID, err := n.provider.Send(ctx, types.SendInput{
		To:          to,
		From:        n.from,
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		BodyHTML:    msg.BodyHTML,
		APIKey:      tenant.NotificationAPIKey,
		ReferenceID: referenceID,
	})
	if err != nil {
		n.logger.WarnContext(ctx, "notice delivery failed",
			"payment_id", payment.ID,
			"to", RedactEmail(to),
			"blocked", IsBlocklistError(err),
			"error", err,
		)
		return "", err
	}

	n.logger.InfoContext(ctx, "notice delivered",
		"payment_id", payment.ID,
		"to", RedactEmail(to),
		"provider_msg_id", msgID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return msgID, nil
}
