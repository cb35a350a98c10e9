package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	userID       string
)

var rootCmd = &cobra.Command{
	Use:   "tanjia",
	Short: "Lead workflow assistant with LLM-backed research and drafting",
	Long: `Tanjia keeps track of leads and helps work them with LLM agents.

It provides:
  - Lead records that move through listen, clarify, map, decide, support
  - Lead enrichment, company overviews and E-Myth role maps
  - Reply and outreach drafting with optional web research
  - A booking webhook and scheduled follow-up reminders
  - A record of every LLM call and agent run`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.tanjia/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "tanjia home directory (default: ~/.tanjia)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&userID, "user", "", "caller identity sent to the server for rate limiting",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
		api.SetDefaultUserID(userID)
	}

	rootCmd.AddCommand(versionCmd)
}
