package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/droned/droned/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the droned daemon in the foreground",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}

	if serveHost != "" {
		d.Config.Blaster.Host = serveHost
	}
	if servePort > 0 {
		d.Config.Blaster.Port = servePort
	}

	return d.Serve(context.Background())
}
