// ABOUTME: CLI command to show the message history of a paper conversation
// ABOUTME: Defaults to the current conversation and always starts with the greeting
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/models"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "Show the messages of a conversation",
		Long: `Show the messages of a paper conversation in order.

Without an argument the current conversation is shown.

Examples:
  paperchat history
  paperchat history 3f2a... --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, s *session) error {
		id := s.svc.Conversations().Current()
		if len(args) == 1 {
			id = args[0]
		}
		if id == "" {
			return errors.New(models.ErrNoSelection)
		}
		conv, ok := s.svc.Conversations().Get(id)
		if !ok {
			return fmt.Errorf("%w: unknown conversation %s", models.ErrInput, id)
		}

		messages := s.svc.History(id)
		if jsonOutput() {
			return printJSON(cmd, map[string]any{
				"conversation": conv,
				"messages":     messages,
			})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n\n", conv.Title, conv.ID)
		for _, m := range messages {
			who := "paperchat"
			if m.Sender == models.SenderUser {
				who = "you"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", formatTime(m.Timestamp), who, m.Content)
		}
		return nil
	})
}
