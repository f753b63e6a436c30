// ABOUTME: Shared helpers for CLI commands: config loading, logger setup and service lifecycle
// ABOUTME: Also holds the display helpers used by history, conversations and cache output
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/chat"
	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/logger"
)

// session is what a command gets from withService
type session struct {
	cfg *config.Config
	log logger.Logger
	svc *chat.Service
}

// loadConfig reads .env (for API keys) and then the preferences file
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger shows user-visible records as plain lines on stderr. --verbose switches to
// the full structured log at debug level; --quiet keeps structured errors only.
func newLogger(cmd *cobra.Command, cfg *config.Config) logger.Logger {
	lc := &logger.Config{
		Level:  logger.LogLevel(cfg.LogLevel),
		Output: cmd.ErrOrStderr(),
		JSON:   cfg.LogJSON,
	}
	switch {
	case verbose:
		lc.Level = logger.DebugLevel
	case quiet:
		lc.Level = logger.ErrorLevel
	default:
		lc.Output = io.Discard
		lc.UserOutput = cmd.ErrOrStderr()
	}
	logger.Init(lc)
	return logger.NewLogger(lc)
}

// withService opens the chat service for the duration of fn
func withService(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	return withServiceConfig(cmd, nil, fn)
}

// withServiceConfig lets adjust swap the loaded config before the service opens
func withServiceConfig(cmd *cobra.Command, adjust func(*config.Config) *config.Config, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if adjust != nil {
		cfg = adjust(cfg)
	}
	log := newLogger(cmd, cfg)
	ctx := logger.ContextWithLogger(cmd.Context(), log)

	svc, err := chat.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening paperchat: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("failed to close service", "error", err)
		}
	}()

	return fn(ctx, &session{cfg: cfg, log: log, svc: svc})
}

// jsonOutput reports whether results should be printed as JSON
func jsonOutput() bool {
	return outputFormat == "json"
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
	return nil
}

// progressPrinter writes ingest progress to stderr unless --quiet
func progressPrinter(cmd *cobra.Command) func(float64) {
	if quiet {
		return nil
	}
	last := -1
	return func(percent float64) {
		p := int(percent)
		if p == last {
			return
		}
		last = p
		fmt.Fprintf(cmd.ErrOrStderr(), "\rProcessing paper... %3d%%", p)
		if p >= 100 {
			fmt.Fprintln(cmd.ErrOrStderr())
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// formatTime formats a time for display
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	} else if diff < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
	return t.Format("2006-01-02")
}
