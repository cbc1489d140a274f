package commands

import (
	"boxchat/internal/service/app"

	"github.com/spf13/cobra"
)

func signupCmd() *cobra.Command {
	var name, bio string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account with the local public key and open the chat UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				var err error
				if name, err = prompt("Display name: "); err != nil {
					return err
				}
			}
			return runSession(cmd.Context(), app.Options{
				Email:       email,
				Password:    password,
				Signup:      true,
				DisplayName: name,
				Bio:         bio,
			})
		},
	}
	addLoginFlags(cmd)
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVar(&bio, "bio", "", "profile bio")
	return cmd
}
