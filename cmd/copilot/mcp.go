package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/copilot/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the copilot tools over MCP on stdio",
		Long: `Serves copilot.ask, copilot.search, copilot.schema, copilot.diagram and
copilot.runs to an MCP client on stdin/stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			deps := mcp.CopilotServerDeps{
				Engine:    a.Engine,
				Validator: a.Validator,
				Graph:     a.Graph,
				Searcher:  a.Index,
				Schema:    a.Warehouse,
				Logger:    c.logger,
			}
			if a.Store != nil {
				deps.Runs = a.Store
				deps.Traces = a.Events
			}
			c.logger.Info("mcp server starting", "transport", "stdio")
			return mcp.NewCopilotServer(deps).Serve(cmd.Context())
		},
	}
}
