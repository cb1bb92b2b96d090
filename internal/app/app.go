// Package app builds the process-wide dependency graph shared by the API
// server, the retry sweeper and the operator CLI. Every client is created
// once here and injected; nothing below this package reaches for globals.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"recoverly/internal/config"
	"recoverly/internal/db"
	"recoverly/internal/events"
	"recoverly/internal/external"
	"recoverly/internal/notifications/email"
	"recoverly/internal/recovery"
	"recoverly/internal/scheduler"
	"recoverly/internal/security"
	"recoverly/internal/types"
)

// LoadConfig reads configuration, resolving *_SSM_PARAM references through
// SSM outside local mode.
func LoadConfig() (*config.Config, error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	return config.LoadConfig(provider)
}

// NewLogger creates a JSON slog.Logger for the given level name. Unknown
// levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// LoadAWS loads the default AWS configuration for cfg's region, pointing
// every client at the LocalStack endpoint when one is set.
func LoadAWS(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// Runtime holds the wired components of one process.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	AWS    aws.Config
	Pool   *pgxpool.Pool

	Tenants  *db.TenantRepository
	Payments *db.PaymentRepository
	Retries  *db.RetryRepository
	Logs     *db.WebhookLogRepository

	Clients  *external.Clients
	Notifier *email.Notifier
	Policy   recovery.Policy
	Verifier *events.Verifier
}

// New connects to Postgres, optionally migrates, and builds the ledger,
// vendor clients and notifier.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	awsCfg, err := LoadAWS(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	sealer, err := security.NewSealer(cfg.Security.SecretsKey.Unmask())
	if err != nil {
		return nil, err
	}

	if cfg.Database.MigrateOnStart {
		if err := Migrate(cfg.Database, logger); err != nil {
			return nil, err
		}
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	clients, err := external.NewClients(cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building vendor clients: %w", err)
	}

	renderer, err := email.NewRenderer()
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		AWS:      awsCfg,
		Pool:     pool,
		Tenants:  db.NewTenantRepository(pool, sealer),
		Payments: db.NewPaymentRepository(pool),
		Retries:  db.NewRetryRepository(pool),
		Logs:     db.NewWebhookLogRepository(pool),
		Clients:  clients,
		Notifier: email.NewNotifier(email.NotifierConfig{
			Provider: clients.Email,
			Renderer: renderer,
			From:     types.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
			Timeout:  cfg.Email.SendTimeout,
			Logger:   logger.With("component", "notifier"),
		}),
		Policy:   recovery.Policy{Delays: cfg.Retry.Delays},
		Verifier: events.NewVerifier(cfg.Webhook.Tolerance),
	}, nil
}

// Migrate applies pending schema migrations.
func Migrate(cfg config.DatabaseConfig, logger *slog.Logger) error {
	m, err := db.NewMigrator(cfg.URL.Unmask(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("closing migrator", "error", err)
		}
	}()
	return m.Up()
}

// Close releases the database pool.
func (rt *Runtime) Close() {
	rt.Pool.Close()
}

func (rt *Runtime) dispatcher(auth recovery.Authenticator, mode string) *recovery.Dispatcher {
	return recovery.NewDispatcher(recovery.DispatcherConfig{
		Auth:      auth,
		Payments:  rt.Payments,
		Retries:   rt.Retries,
		Logs:      rt.Logs,
		Notifier:  rt.Notifier,
		Customers: rt.Clients.Customers,
		Policy:    rt.Policy,
		Logger:    rt.Logger.With("component", "dispatcher", "mode", mode),
	})
}

// PathDispatcher serves /webhooks/stripe/{tenantID}.
func (rt *Runtime) PathDispatcher() *recovery.Dispatcher {
	return rt.dispatcher(recovery.NewPathAuthenticator(rt.Tenants, rt.Verifier), "path")
}

// LegacyDispatcher serves the shared /webhooks/stripe endpoint, or returns
// nil when it is disabled.
func (rt *Runtime) LegacyDispatcher() *recovery.Dispatcher {
	if !rt.Config.Webhook.LegacyEnabled {
		return nil
	}
	auth := recovery.NewMetadataAuthenticator(
		rt.Tenants,
		rt.Verifier,
		rt.Clients.Customers,
		rt.Config.Webhook.StripeWebhookSecret,
		rt.Config.Webhook.StripeSecretKey,
		rt.Logger.With("component", "metadata_auth"),
	)
	return rt.dispatcher(auth, "metadata")
}

// SweepMetrics publishes to CloudWatch when ENABLE_METRICS is set.
func (rt *Runtime) SweepMetrics() scheduler.SweepMetrics {
	if !rt.Config.Observability.EnableMetrics {
		return scheduler.NoopSweepMetrics{}
	}
	return scheduler.NewCloudWatchSweepMetrics(
		cloudwatch.NewFromConfig(rt.AWS),
		rt.Config.Observability.MetricNamespace,
		rt.Config.Environment,
		rt.Logger.With("component", "metrics"),
	)
}

// Sweeper builds the retry sweeper.
func (rt *Runtime) Sweeper() *scheduler.RetrySweeper {
	return scheduler.NewRetrySweeper(scheduler.SweeperConfig{
		Retries:     rt.Retries,
		Payments:    rt.Payments,
		Tenants:     rt.Tenants,
		Notifier:    rt.Notifier,
		Policy:      rt.Policy,
		BatchSize:   rt.Config.Retry.BatchSize,
		Concurrency: rt.Config.Retry.Concurrency,
		ClaimTTL:    rt.Config.Retry.ClaimTTL,
		Metrics:     rt.SweepMetrics(),
		Logger:      rt.Logger.With("component", "sweeper"),
	})
}
