package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/droned/droned/internal/daemon"
)

func init() {
	rootCmd.AddCommand(psCmd)
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List supervised application instances and their state",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	instances := d.Apps.All()
	if len(instances) == 0 {
		fmt.Println("No applications declared.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATE\tPID")
	for _, inst := range instances {
		facts, ok, _ := inst.Facts(context.Background())
		pid := "-"
		if ok {
			pid = fmt.Sprintf("%d", facts.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", inst.Key(), inst.State(), pid)
	}
	return w.Flush()
}
