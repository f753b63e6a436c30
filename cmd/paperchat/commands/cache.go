// ABOUTME: Cache commands for the embedding cache
// ABOUTME: Lists cached papers and resets all cached data and conversations
package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache command group
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the embedding cache",
		Long: `Inspect or reset the embedding cache.

Embeddings are kept for the most recently used papers so questions
about them do not require extracting and embedding the PDF again.`,
	}

	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCacheResetCmd())

	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached papers, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, s *session) error {
				entries, err := s.svc.CacheEntries(ctx)
				if err != nil {
					return fmt.Errorf("listing cache: %w", err)
				}

				if jsonOutput() {
					return printJSON(cmd, entries)
				}
				if len(entries) == 0 {
					if !quiet {
						fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
					}
					return nil
				}

				titles := make(map[string]string)
				for _, c := range s.svc.Conversations().List() {
					titles[c.ID] = c.Title
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "DOCUMENT ID\tTITLE\tCHUNKS\tLAST USED\n")
				fmt.Fprintf(w, "-----------\t-----\t------\t---------\n")
				for _, e := range entries {
					title := titles[e.ID]
					if title == "" {
						title = "(no conversation)"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.ID, truncate(title, 40), e.Chunks, formatTime(e.Timestamp))
				}
				return w.Flush()
			})
		},
	}
}

func newCacheResetCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the cache and every conversation",
		Long: `Clear the embedding cache together with all conversations and messages.

Papers will be extracted and embedded again the next time they are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				fmt.Fprintln(cmd.OutOrStdout(), "This will delete ALL cached papers and conversations!")
				fmt.Fprintln(cmd.OutOrStdout(), "Run with --confirm to proceed")
				return nil
			}
			return withService(cmd, func(ctx context.Context, s *session) error {
				if err := s.svc.ResetAll(ctx); err != nil {
					return fmt.Errorf("resetting cache: %w", err)
				}
				if !quiet {
					fmt.Fprintln(cmd.OutOrStdout(), "Cache and conversations cleared")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the reset")

	return cmd
}
