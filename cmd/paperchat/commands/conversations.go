// ABOUTME: CLI command to list or delete retained paper conversations
// ABOUTME: Newest first; the current conversation is marked with an asterisk
package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var conversationsDelete string

// NewConversationsCmd creates the conversations command
func NewConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"list"},
		Short:   "List paper conversations",
		Long: `List the retained paper conversations, most recently used first.

Only the most recent conversations are kept; older ones are evicted
together with their messages and cached embeddings.

Examples:
  paperchat conversations
  paperchat conversations --format json
  paperchat conversations --delete 3f2a...`,
		Args: cobra.NoArgs,
		RunE: runConversations,
	}

	cmd.Flags().StringVar(&conversationsDelete, "delete", "", "Delete this conversation and its cached embeddings")

	return cmd
}

type conversationRow struct {
	ID       string `json:"conversation_id"`
	Title    string `json:"title"`
	Source   string `json:"source,omitempty"`
	Messages int    `json:"messages"`
	LastUsed string `json:"last_used"`
	Current  bool   `json:"current"`
}

func runConversations(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, s *session) error {
		if conversationsDelete != "" {
			if err := s.svc.DeleteConversation(ctx, conversationsDelete); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", conversationsDelete)
			}
			return nil
		}

		current := s.svc.Conversations().Current()
		convs := s.svc.Conversations().List()
		rows := make([]conversationRow, 0, len(convs))
		for _, c := range convs {
			rows = append(rows, conversationRow{
				ID:       c.ID,
				Title:    c.Title,
				Source:   c.Source,
				Messages: len(s.svc.History(c.ID)) - 1,
				LastUsed: c.Timestamp.Format(time.RFC3339),
				Current:  c.ID == current,
			})
		}

		if jsonOutput() {
			return printJSON(cmd, rows)
		}
		if len(rows) == 0 {
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations found")
			}
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, " \tTITLE\tMESSAGES\tLAST USED\tCONVERSATION ID\n")
		fmt.Fprintf(w, " \t-----\t--------\t---------\t---------------\n")
		for i, r := range rows {
			mark := " "
			if r.Current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", mark, truncate(r.Title, 40), r.Messages, formatTime(convs[i].Timestamp), r.ID)
		}
		return w.Flush()
	})
}
