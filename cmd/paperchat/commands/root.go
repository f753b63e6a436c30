// ABOUTME: Root CLI command and global flags for paperchat
// ABOUTME: Registers every subcommand and validates verbose/quiet/format up front
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
)

const banner = `
 ██████   █████  ██████  ███████ ██████   ██████ ██   ██  █████  ████████
 ██   ██ ██   ██ ██   ██ ██      ██   ██ ██      ██   ██ ██   ██    ██
 ██████  ███████ ██████  █████   ██████  ██      ███████ ███████    ██
 ██      ██   ██ ██      ██      ██   ██ ██      ██   ██ ██   ██    ██
 ██      ██   ██ ██      ███████ ██   ██  ██████ ██   ██ ██   ██    ██
`

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paperchat",
		Short: "Chat with research papers",
		Long: banner + `
Ask questions about PDF papers. paperchat extracts the text of a paper,
embeds its paragraphs, finds the passage closest to your question and
asks an LLM to answer from it. Embeddings and conversations are cached
so a paper is only processed once.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose && quiet {
				return errors.New("--verbose and --quiet are mutually exclusive")
			}
			switch outputFormat {
			case "auto", "text", "json":
				return nil
			default:
				return fmt.Errorf("--format must be auto, text or json, got %q", outputFormat)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print results and errors")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "auto", "Output format: auto, text or json")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		NewAskCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewHistoryCmd(),
		NewConversationsCmd(),
		NewCacheCmd(),
		NewConfigCmd(),
		NewEvalCmd(),
		NewSyncCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// ExecuteContext runs the root command with ctx available to every subcommand
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
