package main

import (
	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running eraflow server via HTTP.

These commands require a running server (eraflow serve).
Use --server to specify a custom server URL.

Examples:
  eraflow api health                  # Check server health
  eraflow api documents list          # List documents
  eraflow api documents get <id>      # Get a specific document`,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Document pipeline commands",
}

var remitsCmd = &cobra.Command{
	Use:   "remits",
	Short: "Remittance file commands",
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Credit ledger commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.TriggerSweepEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	// Documents as subcommand group
	for _, ep := range endpoints.DocumentCommands() {
		if cmd := ep.Command(getServerURL); cmd != nil {
			documentsCmd.AddCommand(cmd)
		}
	}

	// Remits as subcommand group
	for _, ep := range endpoints.RemitCommands() {
		if cmd := ep.Command(getServerURL); cmd != nil {
			remitsCmd.AddCommand(cmd)
		}
	}

	// Credits as subcommand group
	for _, ep := range endpoints.CreditCommands() {
		if cmd := ep.Command(getServerURL); cmd != nil {
			creditsCmd.AddCommand(cmd)
		}
	}

	apiCmd.AddCommand(documentsCmd)
	apiCmd.AddCommand(remitsCmd)
	apiCmd.AddCommand(creditsCmd)
	rootCmd.AddCommand(apiCmd)
}
