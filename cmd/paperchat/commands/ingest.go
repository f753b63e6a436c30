// ABOUTME: CLI command to ingest a paper without asking anything
// ABOUTME: Extracts and embeds the paper, then selects its conversation
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/models"
)

var (
	ingestID    string
	ingestTitle string
)

// NewIngestCmd creates the ingest command
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <source>",
		Short: "Extract and embed a paper",
		Long: `Extract the text of a paper and embed its paragraphs.

The source is a local PDF path or an http(s) URL. A paper that is already
in the embedding cache is not processed again. The paper's conversation
becomes the current one.

Examples:
  paperchat ingest ./attention.pdf --title "Attention Is All You Need"
  paperchat ingest https://arxiv.org/pdf/1706.03762`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().StringVar(&ingestID, "id", "", "Document id (derived from the source by default)")
	cmd.Flags().StringVar(&ingestTitle, "title", "", "Paper title")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	doc, err := models.NewDocument(ingestID, ingestTitle, args[0])
	if err != nil {
		return err
	}

	return withService(cmd, func(ctx context.Context, s *session) error {
		conv, err := s.svc.Start(ctx, []models.Document{*doc}, progressPrinter(cmd))
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", doc.MainURL, err)
		}
		set, err := s.svc.Ingest(ctx, *doc, nil)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", doc.MainURL, err)
		}

		if jsonOutput() {
			return printJSON(cmd, map[string]any{
				"conversation_id": conv.ID,
				"title":           conv.Title,
				"chunks":          set.Len(),
				"lang":            set.Lang,
				"model":           set.Model,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s\n", conv.Title)
		fmt.Fprintf(cmd.OutOrStdout(), "  Conversation: %s\n", conv.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "  Chunks:       %d\n", set.Len())
		fmt.Fprintf(cmd.OutOrStdout(), "  Language:     %s\n", set.Lang)
		fmt.Fprintf(cmd.OutOrStdout(), "  Model:        %s\n", set.Model)
		return nil
	})
}
