package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droned/droned/internal/daemon"
)

func init() {
	rootCmd.AddCommand(stopCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop INSTANCE",
	Short: "Stop a supervised application instance by its app/label key",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	inst, err := d.Apps.Lookup(args[0])
	if err != nil {
		return err
	}

	if err := inst.Stop(context.Background()); err != nil {
		return err
	}

	fmt.Printf("stopped %s\n", args[0])
	return nil
}
