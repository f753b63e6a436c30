// ABOUTME: Main entry point for the standalone paperchat MCP server with stdio transport
// ABOUTME: Loads configuration, opens the chat service and serves tools until interrupted
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harper/paperchat/internal/chat"
	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/llm"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/mcp"
)

var version = "dev"

func main() {
	log := logger.NewLogger(logger.DefaultConfig())

	// Load .env file if it exists (for API keys)
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	lc := &logger.Config{
		Level:  logger.LogLevel(cfg.LogLevel),
		Output: os.Stderr,
		JSON:   cfg.LogJSON,
	}
	logger.Init(lc)
	log = logger.NewLogger(lc)

	if err := llm.New(cfg, log).Preflight(); err != nil {
		log.Warn("LLM features will not work", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := chat.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open chat service", "error", err)
		os.Exit(1)
	}

	serveErr := mcp.ServeStdio(ctx, svc, version, log)
	if err := svc.Close(); err != nil {
		log.Warn("failed to close service", "error", err)
	}
	if serveErr != nil {
		log.Error("server stopped", "error", serveErr)
		os.Exit(1)
	}
}
