// Package blastercli implements the standalone "blaster" command-line
// tool: a thin client for the signed RPC protocol, independent of running
// droned locally — it only needs a keyring directory and a list of peers,
// mirroring how the original blaster command line client operated
// against any droned host.
package blastercli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "blaster",
	Short:         "blaster — send signed commands to droned hosts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// send's -h/--hosts (spec §6's documented "blaster -h host:port ...")
	// needs the -h shorthand; pre-register --help without one so cobra's
	// InitDefaultHelpFlag (which otherwise unconditionally adds -h/--help
	// and panics on the shorthand collision) finds "help" already present
	// and leaves it alone.
	rootCmd.PersistentFlags().Bool("help", false, "help for blaster")
}

// Execute runs the root command. Called from cmd/blaster/main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
