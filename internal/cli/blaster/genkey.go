package blastercli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droned/droned/internal/security"
)

var genkeyDir string

func init() {
	genkeyCmd.Flags().StringVar(&genkeyDir, "keys", "", "keyring directory to write into")
	genkeyCmd.MarkFlagRequired("keys") //nolint:errcheck
	rootCmd.AddCommand(genkeyCmd)
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey ID",
	Short: "Generate a new RSA keypair for ID and write it into the keyring directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenkey,
}

func runGenkey(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := security.GenerateKeypair(genkeyDir, id); err != nil {
		return err
	}
	fmt.Printf("wrote %s.public and %s.private to %s\n", id, id, genkeyDir)
	return nil
}
