package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/phone-spec-scraper/internal/mcpserver"
)

var mcpFlags struct {
	httpAddr string
	apiKey   string
}

func init() {
	mcpCmd.Flags().StringVar(&mcpFlags.httpAddr, "http", "", "Serve streamable HTTP on this address instead of stdio")
	mcpCmd.Flags().StringVar(&mcpFlags.apiKey, "api-key", os.Getenv("MCP_API_KEY"), "Bearer token required by the HTTP transport")
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp [--http :8090] [--api-key KEY]",
	Short: "Runs the MCP tool server over stdio or HTTP.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := build(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcpserver.New(a.Scraper, a.DefaultSites)
		if mcpFlags.httpAddr != "" {
			return mcpserver.ServeHTTP(cmd.Context(), srv, mcpFlags.httpAddr, mcpFlags.apiKey, logger)
		}
		return mcpserver.Serve(srv)
	},
}
