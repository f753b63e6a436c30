// ABOUTME: MCP command starts the Model Context Protocol server
// ABOUTME: Lets LLM agents like Claude ingest and ask about papers via stdio
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/llm"
	"github.com/harper/paperchat/internal/mcp"
)

// NewMCPCmd creates the MCP command
func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for LLM agents",
		Long: `Start MCP server for LLM agents

Runs paperchat as an MCP (Model Context Protocol) server on stdio so
agents can ingest papers, ask questions and browse conversations.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
		Example: `  # Start MCP server (typically called by Claude Desktop)
  paperchat mcp

  # Configure in claude_desktop_config.json:
  # {
  #   "mcpServers": {
  #     "paperchat": {
  #       "command": "paperchat",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
	}

	return cmd
}

func runMCP(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, s *session) error {
		if err := llm.New(s.cfg, s.log).Preflight(); err != nil {
			s.log.Warn("LLM features will not work", "error", err)
		}
		err := mcp.ServeStdio(ctx, s.svc, versionInfo.Version, s.log)
		if err == nil {
			s.log.Info("shutdown complete")
		}
		return err
	})
}
