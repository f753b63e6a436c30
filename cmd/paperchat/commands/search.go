// ABOUTME: CLI command to show the passage retrieval picks for a question
// ABOUTME: Nothing is recorded and the LLM is not called
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/models"
)

var searchConversation string

// NewSearchCmd creates the search command
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <question...>",
		Short: "Show the passage that would answer a question",
		Long: `Find the passage of a paper closest to a question.

Prints the best matching paragraph together with its neighbours, exactly
as it would be sent to the LLM. The question is translated to the
paper's language first when they differ. Nothing is added to the
conversation history.

Examples:
  paperchat search "How is attention scaled?"
  paperchat search -c 3f2a... positional encodings`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().StringVarP(&searchConversation, "conversation", "c", "", "Search this conversation's paper (defaults to the current one)")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, s *session) error {
		id := searchConversation
		if id == "" {
			id = s.svc.Conversations().Current()
		}
		if id == "" {
			return errors.New(models.ErrNoSelection)
		}

		r, err := s.svc.Passage(ctx, id, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(cmd, r)
		}
		if r.Query != strings.Join(args, " ") && !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Searched for: %s\n", r.Query)
		}
		fmt.Fprintln(cmd.OutOrStdout(), r.Passage)
		return nil
	})
}
