package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/embedder"
	"github.com/54b3r/kbai-go/internal/knowledge"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/rag"
)

// NewResetCmd constructs the `kbai reset` command, which removes every
// ingested chunk, embedding and structured row.
func NewResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all ingested knowledge (chunks, vectors, KPIs, employees)",
		Long: `Delete all ingested knowledge from the knowledge database and, with
VECTOR_BACKEND=qdrant, the Qdrant collection. Chat history is not touched.

Prompts for confirmation unless --yes is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()

			path, err := knowledgeDBPath()
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}

			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Delete all ingested knowledge in %s? [y/N] ", path)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if !confirmed(answer) {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			st, err := knowledge.Open(path)
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := st.ResetDocuments(ctx); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			if err := st.ResetStructured(ctx); err != nil {
				return fmt.Errorf("reset: %w", err)
			}

			if vectorBackend() == vectorBackendQdrant {
				q, err := rag.NewQdrantIndex(ctx, qdrantConfigFromEnv(embedder.DefaultDimensions(embedder.Backend())))
				if err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				defer func() { _ = q.Close() }()
				if err := q.Reset(ctx); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
			}

			log.Info("knowledge base reset")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// confirmed reports whether a prompt answer is an explicit yes.
func confirmed(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
