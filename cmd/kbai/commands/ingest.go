package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/embedder"
	"github.com/54b3r/kbai-go/internal/ingestion"
	"github.com/54b3r/kbai-go/internal/knowledge"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/rag"
)

// NewIngestCmd constructs the `kbai ingest` command, which loads the
// markdown corpus and the structured data into the knowledge database.
func NewIngestCmd() *cobra.Command {
	var (
		mockEmbeddings bool
		documentsOnly  bool
		structuredOnly bool
		batchSize      int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents and structured data into the knowledge base",
		Long: `Chunk, embed and store the knowledge corpus.

Documents are read from KBAI_DOCUMENTS_DIR (default: ./data/documents), one
subdirectory per category (domain, policies, runbooks). The KPI catalog and
employee directory are read from KBAI_STRUCTURED_DIR (default: ./data/structured).

Embeddings are always written to the knowledge database; with
VECTOR_BACKEND=qdrant they are also upserted into the Qdrant collection.
Re-running ingest replaces chunks by id; use 'kbai reset' to start over.

--mock-embeddings uses deterministic vectors and needs no provider. Set
EMBEDDING_PROVIDER=mock when serving a corpus ingested this way.

Examples:
  kbai ingest
  kbai ingest --structured-only
  kbai ingest --mock-embeddings --batch-size 32`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if documentsOnly && structuredOnly {
				return fmt.Errorf("ingest: --documents-only and --structured-only are mutually exclusive")
			}

			var (
				emb rag.Embedder
				err error
			)
			if mockEmbeddings {
				emb = embedder.NewMock(embedder.DefaultDimensions(embedder.BackendMock))
			} else {
				if err := embedder.ValidateForRAG(log); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				if emb, err = embedder.NewFromEnv(ctx); err != nil {
					return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
				}
			}

			path, err := knowledgeDBPath()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			st, err := knowledge.Open(path)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			// The SQLite embedding table always receives vectors; only Qdrant
			// needs a second write.
			var vectors rag.VectorIndex
			if vectorBackend() == vectorBackendQdrant {
				q, err := rag.NewQdrantIndex(ctx, qdrantConfigFromEnv(embeddingDimensions(emb)))
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				defer func() { _ = q.Close() }()
				vectors = q
			}

			pipeline, err := ingestion.NewPipeline(emb, st, vectors, &ingestion.Config{
				DocumentsDir:  getEnvOrDefault("KBAI_DOCUMENTS_DIR", "./data/documents"),
				StructuredDir: getEnvOrDefault("KBAI_STRUCTURED_DIR", "./data/structured"),
				BatchSize:     batchSize,
			}, log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			progress := func(msg string) { log.Info(msg) }

			if !structuredOnly {
				report, err := pipeline.IngestDocuments(ctx, progress)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("documents ingested",
					slog.Int("documents", report.Documents),
					slog.Int("chunks", report.Chunks),
					slog.Int("failed", len(report.Failed)),
					slog.Any("missing_categories", report.MissingCategories),
				)
			}
			if !documentsOnly {
				report, err := pipeline.IngestStructured(ctx, progress)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("structured data ingested",
					slog.Int("kpis", report.KPIs),
					slog.Int("employees", report.Employees),
					slog.Int("issues", len(report.Issues)),
				)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&mockEmbeddings, "mock-embeddings", false, "Use deterministic mock embeddings (no provider needed)")
	cmd.Flags().BoolVar(&documentsOnly, "documents-only", false, "Ingest only the markdown documents")
	cmd.Flags().BoolVar(&structuredOnly, "structured-only", false, "Ingest only the KPI catalog and employee directory")
	cmd.Flags().IntVar(&batchSize, "batch-size", embedder.DefaultBatchSize, "Chunk texts per embedding request")

	return cmd
}
