// Package cli provides the command-line interface for the Polaris device
// subscription client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagOutput        string
	flagOutputDir     string
	flagConfig        string
	flagLogLevel      string
	flagDryRun        bool
	flagValidateOnly  bool
	flagPolarisAPIKey string
	flagPolarisAPIURL string

	// Version is injected during build via -ldflags.
	Version = "dev"
)

// rootCmd runs the pipeline by default; "secrets" is its only subcommand
// group.
var rootCmd = &cobra.Command{
	Use:   "polaris-device-subclient",
	Short: "Subscribe to Polaris device state and write a normalized NDJSON event log",
	Long: `polaris-device-subclient connects to the Polaris GraphQL subscription
API over graphql-transport-ws, classifies and normalizes each device
state-change event, and writes them as newline-delimited JSON to a rotating
local file (or stdout).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

// Execute runs the root command, exiting the process with code 1 on error
// per the documented exit-code contract.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOutput, "output", "", "Output mode: stdout or file (default: file)")
	rootCmd.PersistentFlags().StringVar(&flagOutputDir, "output-dir", "", "Override the file sink's output directory")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: /etc/polaris/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log verbosity: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Receive ~5 records then shut down")
	rootCmd.PersistentFlags().BoolVar(&flagValidateOnly, "validate-config", false, "Validate configuration and exit")
	rootCmd.PersistentFlags().StringVar(&flagPolarisAPIKey, "polaris-api-key", "", "Override the Polaris API key")
	rootCmd.PersistentFlags().StringVar(&flagPolarisAPIURL, "polaris-api-url", "", "Override the Polaris API URL")

	rootCmd.AddCommand(secretsCmd)
}
