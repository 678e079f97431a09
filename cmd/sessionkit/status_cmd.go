package main

import (
	"fmt"

	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session state",
		Long: `Loads the stored credential, revalidates it against the identity
service, and reports the result. A network failure keeps the cached
session; only an explicit rejection by the service clears it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a := newApp(cfg)

			a.manager.Init(cmd.Context())
			if err := a.manager.Validate(cmd.Context()); err != nil && !identity.IsUnauthorized(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning: could not reach the identity service; showing cached session.")
			}

			state := a.manager.State()
			if !state.Authenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (role: %s)\n", state.User.Email, state.User.Role)
			return nil
		},
	}
}
