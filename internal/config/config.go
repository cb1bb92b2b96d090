// Package config defines the process configuration for the recovery service.
//
// Configuration is read once at startup and treated as immutable. Values are
// resolved in priority order:
//
//	OS environment -> .env file -> AWS SSM Parameter Store
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"recoverly/internal/types"
)

// SecretString is an alias for types.SecretString so configuration secrets
// are redacted in logs and config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"recoverly"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Webhook       WebhookConfig
	Email         EmailConfig
	Retry         RetryConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL used to print tenant webhook endpoints (no trailing slash).
	PublicURL      string        `envconfig:"PUBLIC_URL" default:"http://localhost:8080" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// Per client IP on /v1 routes. 0 disables the limiter.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"gte=0"`
}

// DatabaseConfig holds the Postgres connection string and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	MigrateOnStart    bool          `envconfig:"DB_MIGRATE_ON_START" default:"false"`
}

// AWSConfig holds the region and an optional LocalStack endpoint.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// WebhookConfig controls inbound provider webhook handling.
type WebhookConfig struct {
	// Signature timestamp tolerance.
	Tolerance    time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m" validate:"gt=0"`
	MaxBodyBytes int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536" validate:"gt=0"`

	// Metadata-mode (deprecated) endpoint. Disabled unless explicitly enabled;
	// when enabled the global secret and key are required.
	LegacyEnabled       bool         `envconfig:"LEGACY_WEBHOOK_ENABLED" default:"false"`
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required_if=LegacyEnabled true"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required_if=LegacyEnabled true"`

	// Overrides the provider API base URL (tests, stripe-mock).
	StripeAPIBase string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com"`
	StripeTimeout time.Duration `envconfig:"STRIPE_TIMEOUT" default:"10s"`
}

// EmailConfig holds notification provider settings. DefaultAPIKey is used for
// tenants that have not configured their own notification key.
type EmailConfig struct {
	Provider      string        `envconfig:"EMAIL_PROVIDER" default:"resend" validate:"oneof=resend sendgrid ses stub"`
	DefaultAPIKey SecretString  `envconfig:"RESEND_API_KEY"`
	SendGridKey   SecretString  `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	FromAddress   string        `envconfig:"EMAIL_FROM_ADDRESS" default:"onboarding@resend.dev" validate:"required,email"`
	FromName      string        `envconfig:"EMAIL_FROM_NAME" default:"Billing"`
	BaseURL       string        `envconfig:"EMAIL_API_BASE"`
	SendTimeout   time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s" validate:"gt=0"`
}

// RetryConfig holds the retry campaign policy and sweep tuning.
type RetryConfig struct {
	// Ordered backoff. Retry n is scheduled Delays[n-1] after the previous
	// attempt, and the campaign stops after len(Delays) retries.
	Delays      []time.Duration `envconfig:"RETRY_DELAYS" default:"24h,72h,168h" validate:"min=1,dive,gt=0"`
	BatchSize   int             `envconfig:"RETRY_BATCH_SIZE" default:"100" validate:"gt=0"`
	Concurrency int             `envconfig:"RETRY_CONCURRENCY" default:"8" validate:"gt=0"`
	// Claims older than this are treated as abandoned and become due again.
	ClaimTTL time.Duration `envconfig:"RETRY_CLAIM_TTL" default:"15m" validate:"gt=0"`
	// Cron expression for the local sweeper loop.
	Schedule string `envconfig:"RETRY_SCHEDULE" default:"@every 5m"`
}

// SecurityConfig holds shared secrets and CORS settings.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	CronSecret  SecretString `envconfig:"CRON_SECRET" validate:"required"`
	// Base64-encoded 32-byte key sealing tenant credentials at rest.
	SecretsKey         SecretString `envconfig:"SECRETS_KEY" validate:"required,base64"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Recoverly"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// MaxRetries is the number of scheduled retries in a campaign.
func (r RetryConfig) MaxRetries() int {
	return len(r.Delays)
}
