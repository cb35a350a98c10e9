package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Tanjia server via HTTP.

These commands require a running server (tanjia serve).
Use --server to specify a custom server URL.

Examples:
  tanjia api health                        # Check server health
  tanjia api leads create "Ada Lovelace"   # Create a lead
  tanjia api assist dm "Can we talk Tuesday?" --lead <lead-id>
  tanjia api followups list --due          # Follow-ups that are due`,
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

	for _, ep := range endpoints.TopLevel() {
		apiCmd.AddCommand(ep.Command(getServerURL))
	}

	for _, g := range endpoints.Groups() {
		groupCmd := &cobra.Command{
			Use:   g.Name,
			Short: g.Short,
		}
		for _, ep := range g.Endpoints {
			groupCmd.AddCommand(ep.Command(getServerURL))
		}
		apiCmd.AddCommand(groupCmd)
	}

	rootCmd.AddCommand(apiCmd)
}
