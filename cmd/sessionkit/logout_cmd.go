package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Long: `Clears the stored credential from both storage scopes. The identity
service is notified best effort; the local session is cleared even when
that notification fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a := newApp(cfg)

			a.manager.Init(cmd.Context())
			a.manager.Logout(cmd.Context())

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
