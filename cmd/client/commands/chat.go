package commands

import (
	"boxchat/internal/service/app"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Log in and open the chat UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), app.Options{Email: email, Password: password})
		},
	}
	addLoginFlags(cmd)
	return cmd
}
