package main

import (
	"github.com/spf13/cobra"

	"medgate/cmd/internal/app"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the TCP listener and the ops HTTP listener",
		Long: `Run the server until SIGINT or SIGTERM. Pending migrations are applied
first unless MEDGATE_MIGRATE_ON_START=false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), cfg)
		},
	}
}
