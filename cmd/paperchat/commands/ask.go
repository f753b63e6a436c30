// ABOUTME: CLI command to ask a question about a paper
// ABOUTME: Opens (or continues) the paper's conversation and prints the answer
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/llm"
	"github.com/harper/paperchat/internal/models"
)

var (
	askConversation string
	askTitle        string
)

// NewAskCmd creates the ask command
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [source] <question...>",
		Short: "Ask a question about a paper",
		Long: `Ask a question about a paper.

The first argument is the paper when it is an http(s) URL, a path ending
in .pdf, or an existing file. Otherwise, and always with --conversation,
all arguments form the question and the current (or named) conversation
is continued.

Examples:
  paperchat ask ./attention.pdf "What is multi-head attention?"
  paperchat ask https://arxiv.org/pdf/1706.03762 Why scale the dot product?
  paperchat ask And what about positional encodings?
  paperchat ask --conversation 3f2a... "Summarize the results"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "Continue this conversation id")
	cmd.Flags().StringVar(&askTitle, "title", "", "Title for a new paper conversation")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, s *session) error {
		if err := llm.New(s.cfg, s.log).Preflight(); err != nil && !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}

		answer, err := ask(ctx, cmd, s, args)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(cmd, map[string]string{
				"conversation_id": answer.ConversationID,
				"message_id":      answer.ID,
				"answer":          answer.Content,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer.Content)
		return nil
	})
}

func ask(ctx context.Context, cmd *cobra.Command, s *session, args []string) (models.Message, error) {
	if askConversation != "" || len(args) == 1 || !looksLikeSource(args[0]) {
		id := askConversation
		if id == "" {
			id = s.svc.Conversations().Current()
		}
		if id == "" {
			return models.Message{}, errors.New(models.ErrNoSelection)
		}
		return s.svc.SendLLMMessage(ctx, id, strings.Join(args, " "))
	}

	doc, err := models.NewDocument("", askTitle, args[0])
	if err != nil {
		return models.Message{}, err
	}
	return s.svc.Ask(ctx, *doc, strings.Join(args[1:], " "), progressPrinter(cmd))
}

// looksLikeSource reports whether arg names a paper rather than starting a question:
// an http(s) URL, a .pdf path, or an existing file
func looksLikeSource(arg string) bool {
	if models.IsRemoteSource(arg) || strings.HasSuffix(strings.ToLower(arg), ".pdf") {
		return true
	}
	info, err := os.Stat(arg)
	return err == nil && !info.IsDir()
}
