// Package main is the entrypoint for the retry sweeper.
//
// In Lambda, an EventBridge schedule invokes the handler with a
// SweepPayload; each invocation runs one sweep over retries that have come
// due. Locally the process runs the same sweep on RETRY_SCHEDULE (a cron
// expression such as "@every 5m" or "*/10 * * * *") until interrupted.
//
// Overlapping sweeps are safe: each retry is claimed atomically before it is
// sent, so a second sweeper skips what the first already holds.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/robfig/cron/v3"

	"recoverly/internal/app"
	"recoverly/internal/scheduler"
)

// Sweeper is the subset of scheduler.RetrySweeper the handler calls.
type Sweeper interface {
	ProcessDueRetries(ctx context.Context, now time.Time) (scheduler.SweepResult, error)
	Now() time.Time
}

// Handler holds the dependencies for the sweeper entrypoint.
type Handler struct {
	Sweeper Sweeper
	Logger  *slog.Logger
}

// Handle runs one sweep. ReferenceTime in the payload overrides the clock
// for manual invocation or backfills.
func (h *Handler) Handle(ctx context.Context, payload scheduler.SweepPayload) (scheduler.SweepResult, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := h.Sweeper.Now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	logger.InfoContext(ctx, "retry sweep invoked", "reference_time", now.Format(time.RFC3339))

	start := time.Now()
	res, err := h.Sweeper.ProcessDueRetries(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "retry sweep failed", "error", err)
		return res, fmt.Errorf("processing due retries: %w", err)
	}

	logger.InfoContext(ctx, "retry sweep complete",
		"due", res.Due,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
		"deferred", res.Deferred,
		"skipped", res.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// schedule registers h on c so that it runs on expr. Ticks that fire while
// a sweep is still running are skipped.
func schedule(ctx context.Context, c *cron.Cron, expr string, h *Handler) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		// Errors are logged by Handle; the next tick retries.
		_, _ = h.Handle(ctx, scheduler.SweepPayload{})
	}))
	id, err := c.AddJob(expr, job)
	if err != nil {
		return 0, fmt.Errorf("invalid retry schedule %q: %w", expr, err)
	}
	return id, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel).With("function", "retry-sweeper")

	ctx := context.Background()
	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer rt.Close()

	h := &Handler{Sweeper: rt.Sweeper(), Logger: logger}

	if isLambdaEnvironment() {
		logger.Info("starting in Lambda mode")
		lambda.Start(h.Handle)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := schedule(ctx, c, cfg.Retry.Schedule, h); err != nil {
		return err
	}
	logger.Info("retry sweeper running", "schedule", cfg.Retry.Schedule)
	c.Start()

	<-ctx.Done()
	logger.Info("shutdown signal received, waiting for running sweep")
	<-c.Stop().Done()
	logger.Info("retry sweeper stopped")
	return nil
}

func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}
