// Package main implements recoverctl, the operator CLI for Recoverly.
//
// Usage:
//
//	recoverctl migrate up
//	recoverctl migrate down 1
//	recoverctl migrate version
//	recoverctl sweep --at=2026-03-01T09:00:00Z
//	recoverctl retries pay_123
//	recoverctl sign --secret=whsec_... --file=invoice.json
//	recoverctl bootstrap --env=dev
//
// Commands that touch the database read the same environment (or .env
// file) as the API server. sign works offline; bootstrap only needs AWS
// credentials.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recoverctl",
		Short:         "Operate the Recoverly payment recovery engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(retriesCmd())
	root.AddCommand(signCmd())
	root.AddCommand(bootstrapCmd())

	return root
}
