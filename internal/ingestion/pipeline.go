// Package ingestion implements the offline batch load of the knowledge base.
// It walks the markdown corpus by category, chunks each document, embeds the
// chunk texts in batches and writes chunk, full-text and vector rows; it also
// loads the KPI catalog and employee directory from the structured data
// directory. This pipeline is invoked by the `kbai ingest` CLI command and is
// a single writer: never run two pipelines against the same store.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/54b3r/kbai-go/internal/chunker"
	"github.com/54b3r/kbai-go/internal/embedder"
	"github.com/54b3r/kbai-go/internal/knowledge"
	"github.com/54b3r/kbai-go/internal/rag"
)

// Store is the persistence surface the pipeline writes to.
// *knowledge.Store satisfies it.
type Store interface {
	InsertChunks(ctx context.Context, chunks []rag.Chunk, lexical []string, vectors [][]float32) error
	UpsertKPIs(ctx context.Context, kpis []knowledge.KPI) error
	UpsertEmployees(ctx context.Context, employees []knowledge.Employee) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// DocumentsDir contains one subdirectory per category.
	DocumentsDir string

	// StructuredDir contains kpi_catalog.csv and directory.json.
	StructuredDir string

	// BatchSize is the number of chunk texts per embedding request.
	// Defaults to embedder.DefaultBatchSize if zero.
	BatchSize int

	// Chunker configures section splitting. Nil uses chunker defaults.
	Chunker *chunker.Config
}

// Report summarises a pipeline run.
type Report struct {
	// Documents is the number of documents chunked successfully.
	Documents int
	// Chunks is the number of chunks written.
	Chunks int
	// Failed lists documents that could not be read, keyed by path.
	Failed map[string]string
	// MissingCategories lists category directories that do not exist.
	MissingCategories []string
	// KPIs and Employees count structured rows upserted.
	KPIs      int
	Employees int
	// Issues are validation warnings from the structured data.
	Issues []string
}

// Pipeline orchestrates the discover → chunk → embed → store flow.
type Pipeline struct {
	// embedder converts chunk retrieval texts into dense vectors.
	embedder rag.Embedder

	// store persists chunks, lexical texts, embeddings and structured rows.
	store Store

	// vectors, when non-nil, also receives every embedding (e.g. Qdrant).
	vectors rag.VectorIndex

	// chunker splits markdown into retrieval units.
	chunker *chunker.Chunker

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// vectors may be nil when the SQLite embedding table is the only vector store.
func NewPipeline(emb rag.Embedder, store Store, vectors rag.VectorIndex, cfg *Config, log *slog.Logger) (*Pipeline, error) {
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedder.DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		embedder: emb,
		store:    store,
		vectors:  vectors,
		chunker:  chunker.New(cfg.Chunker),
		cfg:      cfg,
		log:      log,
	}, nil
}

// IngestDocuments chunks every document under cfg.DocumentsDir, embeds all
// chunks and writes them. A document that cannot be read is logged, recorded
// in the report and skipped; an embedding or store failure aborts the run
// before anything is written. Progress is reported via the optional callback.
func (p *Pipeline) IngestDocuments(ctx context.Context, progress func(msg string)) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	report := &Report{Failed: map[string]string{}}

	files, missing, err := Discover(p.cfg.DocumentsDir)
	if err != nil {
		return nil, err
	}
	for _, dir := range missing {
		p.log.Warn("ingestion: category directory not found", slog.String("dir", dir))
	}
	report.MissingCategories = missing

	var (
		chunks  []rag.Chunk
		lexical []string
	)
	for _, f := range files {
		cs, lx, err := p.chunker.ChunkFile(f.Path, f.Category)
		if err != nil {
			p.log.Warn("ingestion: skipping document", slog.String("path", f.Path), slog.Any("error", err))
			report.Failed[f.Path] = err.Error()
			continue
		}
		chunks = append(chunks, cs...)
		lexical = append(lexical, lx...)
		report.Documents++
		progress(fmt.Sprintf("chunked %s/%s into %d chunks", f.Category, filepath.Base(f.Path), len(cs)))
	}
	if len(chunks) == 0 {
		progress("no chunks to ingest")
		return report, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.RetrievalText
	}
	progress(fmt.Sprintf("embedding %d chunks in batches of %d", len(texts), p.cfg.BatchSize))
	vectors, err := embedder.EmbedBatch(ctx, p.embedder, texts, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding failed: %w", err)
	}

	// Vectors are written before chunk rows. A vector whose row is missing is
	// dropped at hydration and overwritten by the next ingest.
	if p.vectors != nil {
		records := make([]rag.VectorRecord, len(chunks))
		for i, c := range chunks {
			records[i] = rag.VectorRecord{
				ChunkID:      c.ID,
				DocumentName: c.DocumentName,
				Category:     c.Category,
				Vector:       vectors[i],
			}
		}
		if err := p.vectors.Upsert(ctx, records); err != nil {
			return nil, fmt.Errorf("ingestion: vector upsert failed, knowledge db left unchanged: %w", err)
		}
	}

	if err := p.store.InsertChunks(ctx, chunks, lexical, vectors); err != nil {
		if p.vectors != nil {
			p.log.Warn("ingestion: vectors upserted but chunk rows were not stored; re-run ingest",
				slog.Int("chunks", len(chunks)), slog.Any("error", err))
		}
		return nil, fmt.Errorf("ingestion: store chunks: %w", err)
	}

	report.Chunks = len(chunks)
	progress(fmt.Sprintf("ingested %d chunks from %d documents", report.Chunks, report.Documents))
	return report, nil
}

// IngestStructured loads kpi_catalog.csv and directory.json from
// cfg.StructuredDir and upserts them. Validation issues are logged and
// reported but do not stop the load.
func (p *Pipeline) IngestStructured(ctx context.Context, progress func(msg string)) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	report := &Report{}

	kpis, err := knowledge.ReadKPICatalog(filepath.Join(p.cfg.StructuredDir, knowledge.KPICatalogFile))
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	report.Issues = append(report.Issues, knowledge.ValidateKPIs(kpis)...)

	employees, err := knowledge.ReadDirectory(filepath.Join(p.cfg.StructuredDir, knowledge.DirectoryFile))
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	report.Issues = append(report.Issues, knowledge.ValidateEmployees(employees)...)

	for _, issue := range report.Issues {
		p.log.Warn("ingestion: structured data issue", slog.String("issue", issue))
	}

	if err := p.store.UpsertKPIs(ctx, kpis); err != nil {
		return nil, fmt.Errorf("ingestion: store kpis: %w", err)
	}
	if err := p.store.UpsertEmployees(ctx, employees); err != nil {
		return nil, fmt.Errorf("ingestion: store employees: %w", err)
	}

	report.KPIs = len(kpis)
	report.Employees = len(employees)
	progress(fmt.Sprintf("loaded %d KPIs and %d employees", report.KPIs, report.Employees))
	return report, nil
}
