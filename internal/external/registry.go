package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"recoverly/internal/config"
)

// Clients holds the vendor clients the service talks to.
type Clients struct {
	Email     EmailProvider
	Customers CustomerLookup
}

// NewClients builds vendor clients from configuration. awsCfg is only used
// when EMAIL_PROVIDER=ses.
func NewClients(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*Clients, error) {
	if logger == nil {
		logger = slog.Default()
	}

	email, err := NewEmailProvider(cfg.Email, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	stripeBase := NewBaseClient(&http.Client{Timeout: cfg.Webhook.StripeTimeout}, "stripe", DefaultRetryPolicy())
	customers := NewStripeClient(stripeBase, StripeClientConfig{
		BaseURL: cfg.Webhook.StripeAPIBase,
		Logger:  logger.With("client", "stripe"),
	})

	return &Clients{Email: email, Customers: customers}, nil
}

// NewEmailProvider returns the provider selected by cfg.Provider.
func NewEmailProvider(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger) (EmailProvider, error) {
	httpClient := &http.Client{Timeout: cfg.SendTimeout}
	if cfg.SendTimeout <= 0 {
		httpClient.Timeout = 10 * time.Second
	}

	switch cfg.Provider {
	case EmailProviderResend, "":
		return NewResendClient(NewBaseClient(httpClient, "resend", DefaultRetryPolicy()), ResendClientConfig{
			APIKey:  cfg.DefaultAPIKey.Unmask(),
			BaseURL: cfg.BaseURL,
			Logger:  logger.With("client", "resend"),
		}), nil
	case EmailProviderSendGrid:
		return NewSendGridClient(NewBaseClient(httpClient, "sendgrid", DefaultRetryPolicy()), SendGridClientConfig{
			APIKey:  cfg.SendGridKey.Unmask(),
			BaseURL: cfg.BaseURL,
			Logger:  logger.With("client", "sendgrid"),
		}), nil
	case EmailProviderSES:
		return NewSESClient(awsCfg, logger.With("client", "ses")), nil
	case EmailProviderStub:
		logger.Warn("email provider is stub; notifications will not be delivered")
		return NewStubEmailProvider(logger.With("mode", "stub")), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
