// Package cmd defines and implements the CLI commands for the redditextract
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redditextract/redditextract/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redditextract",
		Short: "An asynchronous Reddit scrape and delivery service.",
		Long: `redditextract fetches posts, comments, users and communities from
reddit's public JSON listings. It runs either as a long-lived HTTP
service with an asynchronous job queue and webhook delivery, or as a
one-shot scrape from the command line.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScrapeCmd())

	return cmd
}

// loadConfig reads configuration honoring the persistent --config flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
