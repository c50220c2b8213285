package main

import (
	"github.com/spf13/cobra"

	"medgate/cmd/internal/app"
)

// NewRootCmd creates the root command for the medgate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "medgate",
		Short: "medgate - account login and registration over persistent connections",
		Long: `medgate accepts TCP and WebSocket connections carrying JSON frames,
registers and authenticates users against a credential store, and keeps one
idle-limited session per connection.

Configuration comes from MEDGATE_* environment variables. Flags given on the
command line override them.`,
		SilenceUsage: true,
	}

	app.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the environment and applies the flags set on cmd.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}
