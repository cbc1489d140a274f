package commands

import (
	"fmt"

	"boxchat/internal/keyring"

	"github.com/spf13/cobra"
)

func pubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the local public key, creating the key pair if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := keyring.New(keyringStore()).LoadOrCreate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(keys.PublicKey)
			return nil
		},
	}
}
