package cli

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/rendercheck/history"
	"github.com/hazyhaar/rendercheck/report"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the result triage tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := a.newMCPServer()
			cfg := report.MCPConfig{ResultsDir: a.cfg.Server.ResultsDir, Logger: a.logger}
			if !a.cfg.History.Disabled {
				store, err := history.Open(a.cfg.History.Path, a.logger)
				if err != nil {
					return err
				}
				defer store.Close()
				cfg.History = store
			}
			report.RegisterMCP(srv, cfg)
			a.logger.Info("mcp: serving on stdio", "results_dir", cfg.ResultsDir, "history", cfg.History != nil)
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

func (a *app) newMCPServer() *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "rendercheck", Version: Version}, nil)
}
