package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/topicstreams/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scraper loop and the HTTP/WebSocket API",
		Long: `Starts the scheduler and the API server on server.port and blocks until
SIGINT or SIGTERM, then drains connections and closes every backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run application: %w", err)
			}
			return nil
		},
	}
}
