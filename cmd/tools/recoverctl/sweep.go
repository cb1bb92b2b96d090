package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recoverly/internal/app"
)

func sweepCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retry sweep now",
		Long: `Run one retry sweep in-process, sending every retry that is due.

--at overrides the reference time, e.g. to send retries scheduled later
today during a backfill. The result counts are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := parseAt(at)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			rt, err := app.New(ctx, cfg, app.NewLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer rt.Close()

			sweeper := rt.Sweeper()
			now := sweeper.Now()
			if ref != nil {
				now = *ref
			}
			res, err := sweeper.ProcessDueRetries(ctx, now)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC3339); defaults to now")
	return cmd
}

// parseAt parses an optional RFC3339 timestamp and normalizes it to UTC.
func parseAt(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("--at must be RFC3339, got %q", s)
	}
	t = t.UTC()
	return &t, nil
}
