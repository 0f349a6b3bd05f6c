package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/prepx/internal/docs"
	prepxmcp "github.com/joescharf/prepx/internal/mcp"
	"github.com/joescharf/prepx/internal/pipeline"
	"github.com/joescharf/prepx/internal/sessions"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Documents are read from the same upload area and catalog as 'prepx serve'.
Configure in an MCP client with:

  {
    "mcpServers": {
      "prepx": { "command": "prepx", "args": ["mcp"] }
    }
  }

Available tools: prepx_start_plan, prepx_plan_logs, prepx_plan_result,
prepx_list_documents`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		// stdout carries the protocol, so diagnostics go to stderr only.
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		slog.SetDefault(logger)

		storage := docs.NewStorage(uploadRoot())
		src := pipeline.CatalogSource{Store: s, Fallback: pipeline.StorageSource{Storage: storage}}
		planner := pipeline.NewOrchestrator(newExecutor(newAgent(), logger), src, logger)
		reg := sessions.NewRegistry(sessions.WithLogger(logger))

		srv := prepxmcp.NewServer(reg, planner, s, buildVersion)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
