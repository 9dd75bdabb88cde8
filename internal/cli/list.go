package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/blaster"
	"github.com/droned/droned/internal/daemon"
)

func init() {
	rootCmd.AddCommand(actionsCmd)
}

var actionsCmd = &cobra.Command{
	Use:     "actions [peer]",
	Aliases: []string{"list"},
	Short:   "List actions a droned peer exposes over blaster",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runActions,
}

func runActions(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	peer := fmt.Sprintf("http://%s:%d", d.Config.Blaster.Host, d.Config.Blaster.Port)
	if len(args) == 1 {
		peer = args[0]
	}

	client := blaster.NewClient(d.Keyring, d.Config.Security.SignerID, zerolog.Nop())
	results := client.Broadcast(context.Background(), []string{peer}, "help", "", blaster.ContentTypeJSON)
	if len(results) == 0 {
		return fmt.Errorf("no response from %s", peer)
	}
	r := results[0]
	if r.Err != nil {
		return r.Err
	}
	if r.Result.Error {
		return fmt.Errorf("%s", r.Result.Description)
	}
	fmt.Println(r.Result.Description)
	return nil
}
