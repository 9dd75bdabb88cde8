// Package gremlincli implements a read-only introspection client for a
// droned host's /gremlin endpoint, the supplemented feature grounded on
// the original implementation's gremlin client: it prints whatever
// snapshot payload the host currently has, without needing a signed
// command round-trip.
package gremlincli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "gremlin",
	Short:         "gremlin — inspect a droned host's entity snapshot",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/gremlin/main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	dumpCmd.Flags().DurationVar(&dumpTimeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.AddCommand(dumpCmd)
}

var dumpTimeout time.Duration

var dumpCmd = &cobra.Command{
	Use:   "dump PEER",
	Short: "Fetch and print a peer's current entity snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: dumpTimeout}
	resp, err := client.Get(args[0] + "/gremlin")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", args[0], resp.StatusCode)
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
