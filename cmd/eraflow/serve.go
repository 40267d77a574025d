package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/evanhollis/eraflow/docs/swagger"
	"github.com/evanhollis/eraflow/internal/config"
	"github.com/evanhollis/eraflow/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the eraflow server",
	Long: `Start the eraflow HTTP server.

This starts the API server together with the extraction worker pool and the
recovery sweeper. When the server shuts down (via Ctrl+C or SIGTERM), the
pool drains and the database is closed.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes database status)
  - /api    - Document, item, credit and remittance operations

Examples:
  eraflow serve                      # Start with ./config.yaml
  eraflow serve --config /etc/eraflow/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		srv, err := server.New(ctx, server.Config{
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
