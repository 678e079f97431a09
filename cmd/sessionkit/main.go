package main

import (
	"fmt"
	"os"

	"github.com/auditdeck/sessionkit/internal/config"
	"github.com/auditdeck/sessionkit/internal/log"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessionkit",
		Short:         "Authenticate against the AuditDeck compliance dashboard",
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var logLevel string
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			return log.SetLogLevel(logLevel)
		}
		return nil
	}

	cmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newStatusCommand(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		if err := log.SetLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
