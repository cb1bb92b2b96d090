// Package main is the entry point for the Recoverly API server.
//
// It loads configuration, wires the ledger, vendor clients and dispatchers,
// builds the HTTP server with the core chassis (middleware, routing, health
// checks), and serves:
//
//	POST /webhooks/stripe/{tenantID}     provider webhooks (path mode)
//	POST /webhooks/stripe                provider webhooks (metadata mode, deprecated)
//	GET|POST /v1/retries/process         sweep trigger (CRON_SECRET)
//	GET|PUT  /v1/tenants/{id}/settings   tenant settings (ADMIN_API_KEY)
//	GET /v1/tenants/{id}/payments        ledger listing (ADMIN_API_KEY)
//	GET /v1/tenants/{id}/webhook-logs    webhook audit trail (ADMIN_API_KEY)
//	GET /health
//
// In local mode it runs as a standard HTTP server on the configured port. In
// Lambda it serves API Gateway HTTP API events through core.NewLambdaHandler.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"

	"recoverly/internal/api/handlers"
	"recoverly/internal/app"
	"recoverly/internal/config"
	"recoverly/internal/core"
	"recoverly/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("recoverly API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"legacy_webhook", cfg.Webhook.LegacyEnabled,
	)

	ctx := context.Background()
	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}

	srv, err := buildServer(cfg, logger, rt.Pool, routes{
		webhooks: handlers.NewWebhookHandler(
			rt.PathDispatcher(),
			legacyOrNil(rt),
			cfg.Webhook.MaxBodyBytes,
			logger.With("handler", "webhook"),
		),
		retries:  handlers.NewRetryTriggerHandler(rt.Sweeper(), logger.With("handler", "retries")),
		settings: handlers.NewSettingsHandler(rt.Tenants, nil, cfg.Server.PublicURL, nil, logger.With("handler", "settings")),
		ledger:   handlers.NewLedgerHandler(rt.Payments, rt.Logs, logger.With("handler", "ledger")),
	})
	if err != nil {
		rt.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Closers = append(srv.Closers, rt.Close)

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// legacyOrNil avoids handing a typed nil *recovery.Dispatcher to the
// handler's interface field.
func legacyOrNil(rt *app.Runtime) handlers.WebhookDispatcher {
	if d := rt.LegacyDispatcher(); d != nil {
		return d
	}
	return nil
}

type routes struct {
	webhooks *handlers.WebhookHandler
	retries  *handlers.RetryTriggerHandler
	settings *handlers.SettingsHandler
	ledger   *handlers.LedgerHandler
}

// buildServer mounts every handler behind its auth check.
func buildServer(cfg *config.Config, logger *slog.Logger, db core.Pinger, rs routes) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if db != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.DatabaseProbe{DB: db})
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		srv.RateLimitStore = core.NewMemoryRateLimitStore(types.RealClock{})
	}

	srv.RouteRegistrars = append(srv.RouteRegistrars, rs.webhooks.RegisterRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(srv.RequireBearer(cfg.Security.CronSecret))
				rs.retries.RegisterRoutes(r)
			})
		},
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(srv.RequireAdminKey(cfg.Security.AdminAPIKey))
				rs.settings.RegisterRoutes(r)
				rs.ledger.RegisterRoutes(r)
			})
		},
	)

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda serves API Gateway HTTP API events. lambda.Start does not return.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.Start(core.NewLambdaHandler(srv.Handler()))
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
