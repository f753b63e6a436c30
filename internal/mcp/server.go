// ABOUTME: Stdio MCP server lifecycle shared by `paperchat mcp` and cmd/server
// ABOUTME: Serves until the context is cancelled or stdin closes
package mcp

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/paperchat/internal/chat"
	"github.com/harper/paperchat/internal/logger"
)

// ServerName is the MCP server name announced to clients
const ServerName = "paperchat"

// NewServer builds an MCP server with every paperchat tool registered
func NewServer(svc *chat.Service, version string, log logger.Logger) *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer(ServerName, version, mcpserver.WithToolCapabilities(false))
	RegisterTools(server, svc, log)
	return server
}

// ServeStdio runs the server on stdin/stdout until ctx is done or the client disconnects
func ServeStdio(ctx context.Context, svc *chat.Service, version string, log logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	server := NewServer(svc, version, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	log.Info("MCP server starting on stdio", "version", version)
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return nil
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
