// Package cli implements the droned command-line interface using Cobra.
// Each subcommand maps to a capability of the daemon (serve, ps, stop,
// actions).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "droned",
	Short: "droned — per-host application manager and signed RPC daemon",
	Long: `droned runs as a per-host application manager: it starts, stops, and
watches a set of configured applications, assimilates unmanaged processes it
recognizes, and exposes both to the rest of the fleet through the blaster
protocol — a connectionless, signed command RPC.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
