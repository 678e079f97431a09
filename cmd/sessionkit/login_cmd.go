package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	var (
		username string
		password string
		remember bool
		provider string
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the dashboard",
		Long: `Sign in with a username and password, or via an external identity
provider with --provider. Provider logins are session-scoped and are not
persisted across restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a := newApp(cfg)

			if provider != "" {
				return runWebLogin(cmd, a, provider, listen)
			}

			if username == "" {
				username, err = promptLine("Username: ")
				if err != nil {
					return err
				}
			}
			if password == "" {
				password, err = promptLine("Password: ")
				if err != nil {
					return err
				}
			}

			if err := a.manager.Login(cmd.Context(), username, password, remember); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			state := a.manager.State()
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (role: %s)\n", state.User.Email, state.User.Role)
			if remember {
				fmt.Fprintln(cmd.OutOrStdout(), "Session persisted; it will survive restarts.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account identifier")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	cmd.Flags().BoolVar(&remember, "remember", false, "persist the session across restarts")
	cmd.Flags().StringVar(&provider, "provider", "", "external identity provider (e.g. google)")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "local address for the OAuth callback listener")
	return cmd
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
