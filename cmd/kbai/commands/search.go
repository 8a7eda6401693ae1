package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/rag"
	"github.com/54b3r/kbai-go/internal/tools"
)

// NewSearchCmd constructs the `kbai search` command, which runs the
// retrieval pipeline directly without a chat model.
func NewSearchCmd() *cobra.Command {
	var (
		mode     string
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a hybrid, vector or lexical search against the knowledge base",
		Long: `Search the knowledge base and print the results exactly as the
search_knowledge_base tool would show them to the model.

Examples:
  kbai search "refund window annual plan"
  kbai search --mode lexical --category policies "expense approval"
  kbai search --limit 10 "on-call escalation"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			m := rag.Mode(strings.ToLower(mode))
			switch m {
			case rag.ModeHybrid, rag.ModeVector, rag.ModeLexical:
			default:
				return fmt.Errorf("search: unknown mode %q (want hybrid, vector or lexical)", mode)
			}
			if category != "" && !rag.IsCategory(category) {
				return fmt.Errorf("search: unknown category %q", category)
			}

			kb, err := openKnowledgeBase(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer kb.Close()

			retriever, err := kb.retriever(log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			results, err := retriever.Search(ctx, rag.SearchRequest{
				Query:      strings.Join(args, " "),
				Category:   category,
				Mode:       m,
				FinalLimit: limit,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), tools.FormatResults(results))
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(rag.ModeHybrid), "Search mode: hybrid, vector or lexical")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Restrict to one category (domain, policies, runbooks)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of results (default: FINAL_RESULTS_LIMIT)")

	return cmd
}
