package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"recoverly/internal/app"
	"recoverly/internal/types"
)

func retriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retries <payment-id>",
		Short: "Show a payment and its retry schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			rt, err := app.New(ctx, cfg, app.NewLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer rt.Close()

			payment, err := rt.Payments.GetPayment(ctx, args[0])
			if err != nil {
				return err
			}
			retries, err := rt.Retries.ListByPayment(ctx, payment.ID)
			if err != nil {
				return err
			}
			return printRetries(cmd.OutOrStdout(), payment, retries)
		},
	}
}

func printRetries(w io.Writer, p *types.PaymentRecord, retries []types.RetryRecord) error {
	fmt.Fprintf(w, "payment %s  tenant=%s  invoice=%s  status=%s  amount=%s %s\n",
		p.ID, p.TenantID, p.InvoiceID, p.Status, p.Amount.Major(), p.Amount.Currency)
	if p.RecoveredAt != nil {
		fmt.Fprintf(w, "recovered at %s\n", p.RecoveredAt.UTC().Format(time.RFC3339))
	}
	if len(retries) == 0 {
		fmt.Fprintln(w, "no retries scheduled")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATUS\tSCHEDULED\tSENT")
	for _, r := range retries {
		sent := "-"
		if r.SentAt != nil {
			sent = r.SentAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.RetryNumber, r.Status, r.ScheduledAt.UTC().Format(time.RFC3339), sent)
	}
	return tw.Flush()
}
