package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/knowledge"
)

// NewStatsCmd constructs the `kbai stats` command, which prints corpus and
// structured data counts as JSON.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print knowledge base statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := knowledgeDBPath()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			st, err := knowledge.Open(path)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats) //nolint:wrapcheck // CLI output
		},
	}
}
