package main

import (
	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "eraflow",
	Short: "Remittance extraction pipeline for scanned EOB documents",
	Long: `eraflow turns scanned insurance remittance PDFs into structured payment
data and standard 835-style remittance files.

The pipeline includes:
  - Page-level PDF splitting with per-page credit metering
  - LLM-backed extraction of payment line items
  - Exception flagging and check-total reconciliation
  - Remittance (835) file generation with export locking`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.eraflow/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}
